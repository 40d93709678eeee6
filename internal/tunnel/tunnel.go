package tunnel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tunnel describes one SSH local port-forwarding configuration.
// Ports are kept as strings because they are passed verbatim to the
// ssh argv; Validate ensures they are numeric before anything is spawned.
type Tunnel struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	LocalHost  string `yaml:"local_host" json:"local_host"`
	LocalPort  string `yaml:"local_port" json:"local_port"`
	RemoteHost string `yaml:"remote_host" json:"remote_host"`
	RemotePort string `yaml:"remote_port" json:"remote_port"`
	SSHUser    string `yaml:"ssh_user" json:"ssh_user"`
	SSHHost    string `yaml:"ssh_host" json:"ssh_host"`
	SSHPort    string `yaml:"ssh_port" json:"ssh_port"`
	PrivateKey string `yaml:"private_key,omitempty" json:"private_key,omitempty"`
}

// Options carries the ssh client knobs that are delegated to the spawned
// process rather than enforced by the supervisor.
type Options struct {
	KeepAliveInterval time.Duration // ServerAliveInterval
	KeepAliveCount    int           // ServerAliveCountMax
	ConnectTimeout    time.Duration // ConnectTimeout for forwarding sessions
	ProbeTimeout      time.Duration // ConnectTimeout for one-shot probes
}

// DefaultOptions mirrors the flags the original desktop client always passed.
func DefaultOptions() Options {
	return Options{
		KeepAliveInterval: 60 * time.Second,
		KeepAliveCount:    3,
		ConnectTimeout:    10 * time.Second,
		ProbeTimeout:      5 * time.Second,
	}
}

// Forward returns the -L argument value: localPort:remoteHost:remotePort.
func (t *Tunnel) Forward() string {
	return t.LocalPort + ":" + t.RemoteHost + ":" + t.RemotePort
}

// Target returns the user@host ssh destination.
func (t *Tunnel) Target() string {
	return t.SSHUser + "@" + t.SSHHost
}

// ForwardArgs builds the ssh argv for a long-lived forwarding session.
// -N runs no remote command, -v keeps stderr diagnostic-rich for the
// monitor's classifier, ExitOnForwardFailure makes a bad forwarding spec
// fail fast enough for the start grace check to catch it.
func (t *Tunnel) ForwardArgs(o Options) []string {
	args := make([]string, 0, 16)
	if strings.TrimSpace(t.PrivateKey) != "" {
		args = append(args, "-i", t.PrivateKey)
	}
	args = append(args,
		"-L", t.Forward(),
		"-N",
		"-v",
		"-o", fmt.Sprintf("ServerAliveInterval=%d", int(o.KeepAliveInterval.Seconds())),
		"-o", fmt.Sprintf("ServerAliveCountMax=%d", o.KeepAliveCount),
		"-o", "ExitOnForwardFailure=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(o.ConnectTimeout.Seconds())),
		"-p", t.SSHPort,
		t.Target(),
	)
	return args
}

// ProbeArgs builds the ssh argv for a one-shot, non-interactive
// connectivity test. BatchMode suppresses every prompt so the probe
// either succeeds or fails without hanging on user input.
func (t *Tunnel) ProbeArgs(o Options) []string {
	args := make([]string, 0, 10)
	if strings.TrimSpace(t.PrivateKey) != "" {
		args = append(args, "-i", t.PrivateKey)
	}
	args = append(args,
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(o.ProbeTimeout.Seconds())),
		"-p", t.SSHPort,
		t.Target(),
		"echo", "ok",
	)
	return args
}

// Validate checks the fields a forwarding invocation depends on.
func (t *Tunnel) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tunnel name is required")
	}
	if strings.TrimSpace(t.RemoteHost) == "" {
		return fmt.Errorf("tunnel %q: remote host is required", t.Name)
	}
	if strings.TrimSpace(t.SSHUser) == "" {
		return fmt.Errorf("tunnel %q: ssh user is required", t.Name)
	}
	if strings.TrimSpace(t.SSHHost) == "" {
		return fmt.Errorf("tunnel %q: ssh host is required", t.Name)
	}
	for _, p := range []struct{ field, val string }{
		{"local_port", t.LocalPort},
		{"remote_port", t.RemotePort},
		{"ssh_port", t.SSHPort},
	} {
		n, err := strconv.Atoi(strings.TrimSpace(p.val))
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("tunnel %q: %s must be a port number, got %q", t.Name, p.field, p.val)
		}
	}
	return nil
}
