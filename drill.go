// Package drill supervises SSH local port-forwarding tunnels realized
// as external OS subprocesses. It tracks each tunnel's status through a
// small state machine, detects failures by watching subprocess exit and
// parsing its diagnostic stream, and publishes status transitions to
// asynchronous subscribers.
package drill

import (
	"context"
	"log/slog"
	"net/http"

	cfg "github.com/drill-ssh/drill/internal/config"
	"github.com/drill-ssh/drill/internal/history"
	"github.com/drill-ssh/drill/internal/logger"
	"github.com/drill-ssh/drill/internal/metrics"
	"github.com/drill-ssh/drill/internal/probe"
	"github.com/drill-ssh/drill/internal/registry"
	iapi "github.com/drill-ssh/drill/internal/server"
	"github.com/drill-ssh/drill/internal/status"
	"github.com/drill-ssh/drill/internal/supervisor"
	"github.com/drill-ssh/drill/internal/tunnel"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Tunnel = tunnel.Tunnel

type Status = status.Status

type StatusUpdate = status.Update

type Config = cfg.Config

// Manager bundles the registry, supervisor, and prober behind a stable
// embedding API.
type Manager struct {
	cfg    cfg.Config
	reg    *registry.Registry
	sup    *supervisor.Supervisor
	prober *probe.Prober
	hist   history.Sink
	logger *slog.Logger
}

// LoadConfig reads the TOML config at path ("" for the default location).
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// New assembles a manager from the given config.
func New(c Config) (*Manager, error) {
	if err := c.EnsureDirs(); err != nil {
		return nil, err
	}
	log := logger.New(c.Log)
	sup := supervisor.New(c.SupervisorConfig(), log)
	m := &Manager{
		cfg:    c,
		reg:    registry.New(registry.NewFileStore(c.TunnelsFile)),
		sup:    sup,
		prober: probe.New(c.SSH.Path, c.TunnelOptions(), log),
		logger: log,
	}
	sink, err := history.NewFromConfig(c.History)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		if err := sink.EnsureSchema(context.Background()); err != nil {
			_ = sink.Close()
			return nil, err
		}
		m.hist = sink
		sup.SetHistory(sink)
	}
	if err := m.reg.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Logger exposes the manager's slog logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Tunnels returns the registered tunnels in order.
func (m *Manager) Tunnels() []Tunnel { return m.reg.List() }

// Get returns the named tunnel.
func (m *Manager) Get(name string) (Tunnel, error) { return m.reg.Get(name) }

// Add registers and persists a new tunnel, assigning it a fresh id.
func (m *Manager) Add(t Tunnel) (Tunnel, error) {
	added, err := m.reg.Add(t)
	if err != nil {
		return Tunnel{}, err
	}
	if err := m.reg.Save(); err != nil {
		_ = m.reg.Remove(added.Name)
		return Tunnel{}, err
	}
	return added, nil
}

// Update replaces the tunnel with the given id and persists the list.
func (m *Manager) Update(id string, t Tunnel) error {
	if err := m.reg.Update(id, t); err != nil {
		return err
	}
	return m.reg.Save()
}

// Remove stops the named tunnel if active, then unregisters and persists.
// Stopping first is the ordering the registry contract requires.
func (m *Manager) Remove(name string) error {
	if m.sup.IsActive(name) {
		if err := m.sup.Stop(name); err != nil {
			return err
		}
	}
	if err := m.reg.Remove(name); err != nil {
		return err
	}
	return m.reg.Save()
}

// Start spawns the forwarding subprocess for the named tunnel.
func (m *Manager) Start(name string) error {
	t, err := m.reg.Get(name)
	if err != nil {
		return err
	}
	return m.sup.Start(t)
}

// StartTunnel starts a tunnel record directly, without registry lookup.
func (m *Manager) StartTunnel(t Tunnel) error { return m.sup.Start(t) }

// Stop terminates the named tunnel's subprocess; inactive is a no-op.
func (m *Manager) Stop(name string) error { return m.sup.Stop(name) }

// Test runs a stateless one-shot connectivity probe.
func (m *Manager) Test(ctx context.Context, t Tunnel) (string, error) {
	return m.prober.Test(ctx, t)
}

// Status returns the last known status for name.
func (m *Manager) Status(name string) Status { return m.sup.Status(name) }

// Statuses returns a copy of the status tracker.
func (m *Manager) Statuses() map[string]Status { return m.sup.Statuses() }

// IsActive reports whether the named tunnel has a live subprocess.
func (m *Manager) IsActive(name string) bool { return m.sup.IsActive(name) }

// Subscribe attaches a status event subscriber; transitions before the
// call are not replayed.
func (m *Manager) Subscribe() (<-chan StatusUpdate, func()) { return m.sup.Subscribe() }

// History returns the recent transitions for a tunnel, newest first.
// It returns nil when no history sink is configured.
func (m *Manager) History(ctx context.Context, name string, limit int) ([]history.Record, error) {
	if m.hist == nil {
		return nil, nil
	}
	return m.hist.Recent(ctx, name, limit)
}

// Cleanup stops every active tunnel. Must run on normal termination so
// no forwarding subprocess is leaked past our exit.
func (m *Manager) Cleanup() { m.sup.Cleanup() }

// Close cleans up and releases the event feed and history sink.
func (m *Manager) Close() {
	m.sup.Close()
	if m.hist != nil {
		_ = m.hist.Close()
	}
}

// NewHTTPServer starts the daemon API on addr under basePath.
func (m *Manager) NewHTTPServer(addr, basePath string) *http.Server {
	return iapi.NewServer(addr, basePath, m.reg, m.sup, m.prober)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
