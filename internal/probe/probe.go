// Package probe runs one-shot SSH connectivity tests. A probe is
// stateless and independent of the supervisor: it spawns a short-lived
// batch-mode ssh that executes a harmless remote echo and exits, leaving
// no process behind and mutating nothing.
package probe

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/drill-ssh/drill/internal/metrics"
	"github.com/drill-ssh/drill/internal/tunnel"
)

// Prober tests SSH reachability for tunnel configurations.
type Prober struct {
	sshPath string
	opts    tunnel.Options
	logger  *slog.Logger
}

func New(sshPath string, opts tunnel.Options, logger *slog.Logger) *Prober {
	if sshPath == "" {
		sshPath = "ssh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{sshPath: sshPath, opts: opts, logger: logger}
}

// Test runs one connectivity probe. On success it returns a short
// human-readable message; on failure a ProbeFailure error carrying the
// captured diagnostics. It may run concurrently with any supervisor
// operation, including on the same tunnel name.
func (p *Prober) Test(ctx context.Context, t tunnel.Tunnel) (string, error) {
	args := t.ProbeArgs(p.opts)
	p.logger.Debug("probing ssh target", "tunnel", t.Name, "target", t.Target(), "port", t.SSHPort)

	cmd := exec.CommandContext(ctx, p.sshPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		metrics.IncProbe("failure")
		p.logger.Warn("probe failed", "tunnel", t.Name, "target", t.Target(), "detail", detail)
		return "", tunnel.Errorf(tunnel.KindProbeFailure, t.Name, "ssh connection failed: %s", tail(detail, 3))
	}
	metrics.IncProbe("success")
	p.logger.Info("probe succeeded", "tunnel", t.Name, "target", t.Target())
	return "SSH connection successful", nil
}

// tail keeps the last n lines of s; ssh -v style output buries the
// interesting message at the end.
func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
