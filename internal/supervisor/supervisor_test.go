package supervisor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/drill-ssh/drill/internal/status"
	"github.com/drill-ssh/drill/internal/tunnel"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process groups")
	}
}

// writeStub writes an executable shell script standing in for ssh.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssh-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func testTunnel(name string) tunnel.Tunnel {
	return tunnel.Tunnel{
		ID:         "id-" + name,
		Name:       name,
		LocalHost:  "127.0.0.1",
		LocalPort:  "8080",
		RemoteHost: "127.0.0.1",
		RemotePort: "80",
		SSHUser:    "alice",
		SSHHost:    "bastion.example.com",
		SSHPort:    "22",
	}
}

func newTestSupervisor(t *testing.T, sshPath string) *Supervisor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SSHPath = sshPath
	cfg.GracePeriod = 150 * time.Millisecond
	cfg.StopWait = 500 * time.Millisecond
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(s.Close)
	return s
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

// drain reads every update currently observable on ch, waiting briefly
// for stragglers.
func drain(ch <-chan status.Update) []status.Update {
	var out []status.Update
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-time.After(200 * time.Millisecond):
			return out
		}
	}
}

func TestStartConnects(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "sleep 30\n"))
	events, cancel := s.Subscribe()
	defer cancel()

	if err := s.Start(testTunnel("web")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsActive("web") {
		t.Fatalf("tunnel not active after start")
	}
	st := s.Status("web")
	if st.State != status.StateConnected {
		t.Fatalf("state = %s, want connected", st.State)
	}
	if st.ConnectedAt.IsZero() {
		t.Fatalf("connected status missing timestamp")
	}

	got := drain(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %+v", len(got), got)
	}
	if got[0].Status.State != status.StateConnecting || got[1].Status.State != status.StateConnected {
		t.Fatalf("transition order = %s, %s", got[0].Status.State, got[1].Status.State)
	}
}

func TestStartImmediateExit(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "echo 'Permission denied (publickey).' 1>&2\nexit 255\n"))
	events, cancel := s.Subscribe()
	defer cancel()

	err := s.Start(testTunnel("db"))
	if err == nil {
		t.Fatalf("expected error for instantly-exiting process")
	}
	if k, ok := tunnel.KindOf(err); !ok || k != tunnel.KindUnexpectedTermination {
		t.Fatalf("error kind = %v, want unexpected_termination", err)
	}
	if s.IsActive("db") {
		t.Fatalf("failed tunnel still active")
	}
	st := s.Status("db")
	if st.State != status.StateError {
		t.Fatalf("state = %s, want error", st.State)
	}
	if st.Message == "" || st.OccurredAt.IsZero() {
		t.Fatalf("error status missing message or timestamp: %+v", st)
	}

	for _, u := range drain(events) {
		if u.Status.State == status.StateConnected {
			t.Fatalf("connected published for a failed start")
		}
	}
}

// The last stderr line must survive into the start-failure verdict even
// when the child exits the instant after writing it.
func TestStartFailureCarriesDiagnostic(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "echo 'alice@bastion: Permission denied (publickey).' 1>&2\nexit 255\n"))

	err := s.Start(testTunnel("db"))
	if err == nil {
		t.Fatalf("expected error for instantly-exiting process")
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Fatalf("error lost the diagnostic: %v", err)
	}
	if st := s.Status("db"); !strings.Contains(st.Message, "Permission denied") {
		t.Fatalf("status lost the diagnostic: %+v", st)
	}
}

func TestStartSpawnFailure(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, filepath.Join(t.TempDir(), "missing-ssh"))

	err := s.Start(testTunnel("db"))
	if err == nil {
		t.Fatalf("expected spawn failure")
	}
	if k, ok := tunnel.KindOf(err); !ok || k != tunnel.KindSpawnFailure {
		t.Fatalf("error kind = %v, want spawn_failure", err)
	}
	if s.Status("db").State != status.StateError {
		t.Fatalf("state = %s, want error", s.Status("db").State)
	}
}

func TestStartAlreadyActive(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "sleep 30\n"))
	if err := s.Start(testTunnel("web")); err != nil {
		t.Fatalf("first start: %v", err)
	}

	events, cancel := s.Subscribe()
	defer cancel()
	if err := s.Start(testTunnel("web")); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := s.ActiveCount(); got != 1 {
		t.Fatalf("active count = %d, want 1", got)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatalf("redundant start published %d transitions: %+v", len(got), got)
	}
}

func TestStopDisconnects(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "sleep 30\n"))
	events, cancel := s.Subscribe()
	defer cancel()

	if err := s.Start(testTunnel("web")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop("web"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsActive("web") {
		t.Fatalf("tunnel active after stop")
	}
	if st := s.Status("web"); st.State != status.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", st.State)
	}

	// A deliberate stop must never surface as a crash.
	time.Sleep(100 * time.Millisecond)
	got := drain(events)
	for _, u := range got {
		if u.Status.State == status.StateError {
			t.Fatalf("stop published an error transition: %+v", u)
		}
	}
	if last := got[len(got)-1]; last.Status.State != status.StateDisconnected {
		t.Fatalf("final transition = %s, want disconnected", last.Status.State)
	}
}

// A second Stop landing while the first is still waiting out SIGTERM
// must not re-close the handle's cancel channel.
func TestStopConcurrent(t *testing.T) {
	requireUnix(t)
	// The stub shrugs off SIGTERM so the first Stop sits in its
	// escalation window long enough for the second to arrive.
	s := newTestSupervisor(t, writeStub(t, "trap '' TERM\nsleep 30\n"))
	if err := s.Start(testTunnel("web")); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 2)
	go func() { done <- s.Stop("web") }()
	time.Sleep(100 * time.Millisecond)
	go func() { done <- s.Stop("web") }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("stop: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("stop did not return")
		}
	}
	if s.IsActive("web") {
		t.Fatalf("tunnel active after concurrent stops")
	}
	waitUntil(t, time.Second, func() bool {
		return s.Status("web").State == status.StateDisconnected
	})
}

func TestStopInactive(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "sleep 30\n"))
	events, cancel := s.Subscribe()
	defer cancel()

	if err := s.Stop("ghost"); err != nil {
		t.Fatalf("stop of inactive tunnel: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatalf("inactive stop published %d transitions", len(got))
	}
	if len(s.Statuses()) != 0 {
		t.Fatalf("inactive stop recorded a status")
	}
}

func TestUnexpectedExitAfterConnect(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "echo 'connect to host bastion.example.com port 22: Connection refused' 1>&2\nsleep 1\nexit 1\n"))
	events, cancel := s.Subscribe()
	defer cancel()

	if err := s.Start(testTunnel("web")); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, 5*time.Second, func() bool {
		return s.Status("web").State == status.StateError
	})
	if s.IsActive("web") {
		t.Fatalf("crashed tunnel still has a handle")
	}
	st := s.Status("web")
	if st.Message == "" {
		t.Fatalf("crash status has no detail")
	}

	got := drain(events)
	states := make([]status.State, 0, len(got))
	for _, u := range got {
		states = append(states, u.Status.State)
	}
	want := []status.State{status.StateConnecting, status.StateConnected, status.StateError}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestCleanup(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, writeStub(t, "sleep 30\n"))
	for _, name := range []string{"a", "b"} {
		if err := s.Start(testTunnel(name)); err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
	}
	if got := s.ActiveCount(); got != 2 {
		t.Fatalf("active count = %d, want 2", got)
	}

	s.Cleanup()
	if got := s.ActiveCount(); got != 0 {
		t.Fatalf("active count after cleanup = %d, want 0", got)
	}
	for _, name := range []string{"a", "b"} {
		if st := s.Status(name); st.State != status.StateDisconnected {
			t.Fatalf("%s state = %s, want disconnected", name, st.State)
		}
	}
	// Idempotent.
	s.Cleanup()
}

func TestStatusUnknownTunnel(t *testing.T) {
	s := newTestSupervisor(t, "ssh")
	if st := s.Status("never-started"); st.State != status.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", st.State)
	}
}

func TestExitDetail(t *testing.T) {
	if got := exitDetail(nil, ""); got != "process exited with status 0" {
		t.Fatalf("exitDetail(nil) = %q", got)
	}
	got := exitDetail(nil, "Permission denied (publickey).")
	if got != "process exited with status 0: Permission denied (publickey)." {
		t.Fatalf("exitDetail with diag = %q", got)
	}
}
