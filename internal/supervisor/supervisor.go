// Package supervisor owns the lifecycle of SSH forwarding subprocesses:
// it spawns one child and one monitor per started tunnel, tracks each
// tunnel's status, and broadcasts every transition. All mutable state
// lives behind a single mutex whose critical sections contain no
// blocking I/O; the only deliberate blocking wait in the control path is
// the start grace period, taken outside the lock.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/drill-ssh/drill/internal/history"
	"github.com/drill-ssh/drill/internal/metrics"
	"github.com/drill-ssh/drill/internal/status"
	"github.com/drill-ssh/drill/internal/tunnel"
)

// Config carries the supervisor's tunables.
type Config struct {
	// SSHPath is the ssh client binary; defaults to "ssh" on PATH.
	SSHPath string
	// GracePeriod is how long Start waits before the one-shot liveness
	// check that catches near-instant failures.
	GracePeriod time.Duration
	// StopWait bounds how long Stop waits for the child to die after
	// SIGTERM before escalating to SIGKILL.
	StopWait time.Duration
	// EventBuffer is the per-subscriber status queue depth.
	EventBuffer int
	// SSH holds the flags delegated to the spawned process.
	SSH tunnel.Options
}

func DefaultConfig() Config {
	return Config{
		SSHPath:     "ssh",
		GracePeriod: 500 * time.Millisecond,
		StopWait:    2 * time.Second,
		EventBuffer: status.DefaultBuffer,
		SSH:         tunnel.DefaultOptions(),
	}
}

// Supervisor manages active tunnel subprocesses. The handle table and
// the status tracker share one lock; status transitions for a given
// tunnel are totally ordered by it.
type Supervisor struct {
	mu       sync.Mutex
	handles  map[string]*handle
	statuses map[string]status.Status

	events *status.Broadcaster
	hist   history.Sink
	logger *slog.Logger
	cfg    Config
}

func New(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.SSHPath == "" {
		cfg.SSHPath = "ssh"
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 500 * time.Millisecond
	}
	if cfg.StopWait <= 0 {
		cfg.StopWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		handles:  make(map[string]*handle),
		statuses: make(map[string]status.Status),
		events:   status.NewBroadcaster(cfg.EventBuffer),
		logger:   logger,
		cfg:      cfg,
	}
}

// SetHistory attaches a transition sink. Appends are best-effort and
// asynchronous; sink errors are logged, never surfaced.
func (s *Supervisor) SetHistory(h history.Sink) {
	s.mu.Lock()
	s.hist = h
	s.mu.Unlock()
}

// Subscribe attaches a status event subscriber. Only transitions after
// the call are delivered.
func (s *Supervisor) Subscribe() (<-chan status.Update, func()) {
	return s.events.Subscribe()
}

// Start spawns the forwarding subprocess for t and verifies it survives
// the grace period. A tunnel that is already active is a no-op success.
func (s *Supervisor) Start(t tunnel.Tunnel) error {
	s.mu.Lock()
	if _, ok := s.handles[t.Name]; ok {
		s.mu.Unlock()
		s.logger.Debug("tunnel already active", "tunnel", t.Name)
		return nil
	}
	s.setStatusLocked(t.Name, status.Connecting(), "")
	s.mu.Unlock()

	args := t.ForwardArgs(s.cfg.SSH)
	s.logger.Info("starting tunnel", "tunnel", t.Name, "forward", t.Forward(), "target", t.Target())
	// #nosec G204 -- argv is assembled from the validated tunnel record
	cmd := exec.Command(s.cfg.SSHPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stderr, err := cmd.StderrPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		detail := fmt.Sprintf("failed to spawn %s: %v", s.cfg.SSHPath, err)
		s.mu.Lock()
		s.setStatusLocked(t.Name, status.Error(detail, time.Now()), detail)
		s.mu.Unlock()
		metrics.IncError(t.Name)
		return tunnel.NewError(tunnel.KindSpawnFailure, t.Name, err)
	}

	h := newHandle(t.Name, cmd)
	s.mu.Lock()
	if _, ok := s.handles[t.Name]; ok {
		// Lost a race with a concurrent Start; ours is redundant. The
		// scanner still has to drain stderr so the reaper can run.
		s.mu.Unlock()
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		go s.scanDiagnostics(h, stderr)
		go h.reap()
		return nil
	}
	s.handles[t.Name] = h
	active := len(s.handles)
	s.mu.Unlock()
	metrics.SetActive(active)

	go h.reap()
	go s.scanDiagnostics(h, stderr)

	// Grace period: bounded wait catching the common near-instant
	// failure modes (bad forwarding spec, immediate auth rejection).
	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-h.waitDone:
		return s.finishFailedStart(h)
	case <-timer.C:
	}

	s.mu.Lock()
	if h.stopping {
		// Stopped during the grace window; Stop owns the transition.
		s.mu.Unlock()
		return nil
	}
	s.setStatusLocked(t.Name, status.Connected(time.Now()), "")
	s.mu.Unlock()
	metrics.IncStart(t.Name)
	s.logger.Info("tunnel connected", "tunnel", t.Name, "pid", cmd.Process.Pid)

	go s.monitor(h)
	return nil
}

// finishFailedStart handles a child that exited inside the grace period.
func (s *Supervisor) finishFailedStart(h *handle) error {
	s.mu.Lock()
	if h.stopping {
		s.mu.Unlock()
		return nil
	}
	if s.handles[h.name] == h {
		delete(s.handles, h.name)
	}
	active := len(s.handles)
	detail := exitDetail(h.waitErr, h.lastDiag())
	s.setStatusLocked(h.name, status.Error(detail, time.Now()), detail)
	s.mu.Unlock()
	metrics.SetActive(active)
	metrics.IncError(h.name)
	s.logger.Error("tunnel failed to start", "tunnel", h.name, "detail", detail)
	return tunnel.Errorf(tunnel.KindUnexpectedTermination, h.name, "process exited immediately: %s", detail)
}

// Stop terminates the named tunnel's subprocess. No active handle is a
// no-op success with zero status transitions. The monitor is cancelled
// before the process is signalled so a deliberate stop can never be
// observed as a crash.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	h, ok := s.handles[name]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("tunnel not active", "tunnel", name)
		return nil
	}
	if h.stopping {
		// A concurrent Stop owns this handle's shutdown; wait for the
		// child to go instead of signalling (or closing cancel) twice.
		s.mu.Unlock()
		<-h.waitDone
		return nil
	}
	h.stopping = true
	close(h.cancel)
	s.mu.Unlock()

	s.terminate(h)

	s.mu.Lock()
	if s.handles[name] == h {
		delete(s.handles, name)
	}
	active := len(s.handles)
	s.setStatusLocked(name, status.Disconnected(), "")
	s.mu.Unlock()
	metrics.SetActive(active)
	metrics.IncStop(name)
	s.logger.Info("tunnel disconnected", "tunnel", name)
	return nil
}

// terminate kills the process group, escalating from SIGTERM to SIGKILL.
// Termination failures are logged, never surfaced: shutdown proceeds
// unconditionally.
func (s *Supervisor) terminate(h *handle) {
	pid := 0
	if h.cmd.Process != nil {
		pid = h.cmd.Process.Pid
	}
	if pid == 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to signal tunnel process", "tunnel", h.name, "pid", pid, "error", err)
	}
	select {
	case <-h.waitDone:
		return
	case <-time.After(s.cfg.StopWait):
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to kill tunnel process", "tunnel", h.name, "pid", pid, "error", err)
	}
	select {
	case <-h.waitDone:
	case <-time.After(200 * time.Millisecond):
		// best-effort
	}
}

// Cleanup stops every active tunnel. It is idempotent and must run on
// application termination so no forwarding subprocess outlives us.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if err := s.Stop(name); err != nil {
			s.logger.Warn("cleanup stop failed", "tunnel", name, "error", err)
		}
	}
}

// Close shuts the supervisor down: all tunnels stopped, event feed closed.
func (s *Supervisor) Close() {
	s.Cleanup()
	s.events.Close()
}

// IsActive reports whether a handle exists for name.
func (s *Supervisor) IsActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[name]
	return ok
}

// Status returns the last known status for name. Tunnels never started
// in this process's lifetime are implicitly disconnected.
func (s *Supervisor) Status(name string) status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[name]; ok {
		return st
	}
	return status.Disconnected()
}

// Statuses returns a copy of the status tracker.
func (s *Supervisor) Statuses() map[string]status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]status.Status, len(s.statuses))
	for name, st := range s.statuses {
		out[name] = st
	}
	return out
}

// ActiveCount reports the number of live handles.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// setStatusLocked records a transition and publishes it. Callers hold
// s.mu; nothing here blocks. History writes happen off the lock path.
func (s *Supervisor) setStatusLocked(name string, st status.Status, detail string) {
	s.statuses[name] = st
	s.events.Publish(status.Update{Name: name, Status: st, Detail: detail})
	metrics.IncTransition(name, string(st.State))
	if s.hist != nil {
		rec := history.Record{Name: name, State: string(st.State), Detail: detail, OccurredAt: time.Now().UTC()}
		sink := s.hist
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sink.Append(ctx, rec); err != nil {
				s.logger.Warn("history append failed", "tunnel", name, "error", err)
			}
		}()
	}
}

// exitDetail renders the reaper's verdict, preferring the concrete exit
// code or signal and attaching the last diagnostic line when one exists.
func exitDetail(waitErr error, lastDiag string) string {
	detail := "process exited"
	var ee *exec.ExitError
	switch {
	case waitErr == nil:
		detail = "process exited with status 0"
	case errors.As(waitErr, &ee):
		detail = fmt.Sprintf("process exited with %s", ee.ProcessState.String())
	default:
		detail = fmt.Sprintf("process exited: %v", waitErr)
	}
	if lastDiag != "" {
		detail += ": " + lastDiag
	}
	return detail
}
