package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drill-ssh/drill/internal/history"
	"github.com/drill-ssh/drill/internal/logger"
	"github.com/drill-ssh/drill/internal/status"
	"github.com/drill-ssh/drill/internal/supervisor"
	"github.com/drill-ssh/drill/internal/tunnel"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure read from ~/.drill/config.toml.
// Every field has a working default; a missing config file is not an error.
type Config struct {
	DataDir     string `toml:"data_dir" mapstructure:"data_dir"`
	TunnelsFile string `toml:"tunnels_file" mapstructure:"tunnels_file"`
	Listen      string `toml:"listen" mapstructure:"listen"`

	SSH     SSHConfig      `toml:"ssh" mapstructure:"ssh"`
	Log     logger.Config  `toml:"log" mapstructure:"log"`
	History history.Config `toml:"history" mapstructure:"history"`
	Events  EventsConfig   `toml:"events" mapstructure:"events"`
}

type SSHConfig struct {
	Path              string        `toml:"path" mapstructure:"path"`
	GracePeriod       time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	StopWait          time.Duration `toml:"stop_wait" mapstructure:"stop_wait"`
	KeepAliveInterval time.Duration `toml:"keepalive_interval" mapstructure:"keepalive_interval"`
	KeepAliveCount    int           `toml:"keepalive_count" mapstructure:"keepalive_count"`
	ConnectTimeout    time.Duration `toml:"connect_timeout" mapstructure:"connect_timeout"`
	ProbeTimeout      time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type EventsConfig struct {
	Buffer int `toml:"buffer" mapstructure:"buffer"`
}

// DefaultDataDir is ~/.drill, the directory the desktop client used.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drill"
	}
	return filepath.Join(home, ".drill")
}

func Default() Config {
	dataDir := DefaultDataDir()
	opts := tunnel.DefaultOptions()
	return Config{
		DataDir:     dataDir,
		TunnelsFile: filepath.Join(dataDir, "tunnels"),
		Listen:      "127.0.0.1:7440",
		SSH: SSHConfig{
			Path:              "ssh",
			GracePeriod:       500 * time.Millisecond,
			StopWait:          2 * time.Second,
			KeepAliveInterval: opts.KeepAliveInterval,
			KeepAliveCount:    opts.KeepAliveCount,
			ConnectTimeout:    opts.ConnectTimeout,
			ProbeTimeout:      opts.ProbeTimeout,
		},
		Log:    logger.Config{Level: "info", Dir: filepath.Join(dataDir, "logs")},
		Events: EventsConfig{Buffer: status.DefaultBuffer},
	}
}

// Load reads the TOML config at path, falling back to
// <data dir>/config.toml when path is empty. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		path = filepath.Join(c.DataDir, "config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return c, nil
		}
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	// Defaults prefill the derived paths, so an overridden data_dir must
	// re-anchor them explicitly unless the file pins them too.
	if v.IsSet("data_dir") {
		if !v.IsSet("tunnels_file") {
			c.TunnelsFile = ""
		}
		if !v.IsSet("log.dir") {
			c.Log.Dir = ""
		}
	}
	c.applyDataDir()
	return c, nil
}

// applyDataDir re-anchors derived paths when only data_dir was overridden.
func (c *Config) applyDataDir() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.TunnelsFile == "" {
		c.TunnelsFile = filepath.Join(c.DataDir, "tunnels")
	}
	if c.Log.Dir == "" && c.Log.File == "" {
		c.Log.Dir = filepath.Join(c.DataDir, "logs")
	}
}

// EnsureDirs creates the data and log directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.Log.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// TunnelOptions converts the ssh section to the flag set handed to ssh.
func (c *Config) TunnelOptions() tunnel.Options {
	opts := tunnel.DefaultOptions()
	if c.SSH.KeepAliveInterval > 0 {
		opts.KeepAliveInterval = c.SSH.KeepAliveInterval
	}
	if c.SSH.KeepAliveCount > 0 {
		opts.KeepAliveCount = c.SSH.KeepAliveCount
	}
	if c.SSH.ConnectTimeout > 0 {
		opts.ConnectTimeout = c.SSH.ConnectTimeout
	}
	if c.SSH.ProbeTimeout > 0 {
		opts.ProbeTimeout = c.SSH.ProbeTimeout
	}
	return opts
}

// SupervisorConfig converts the ssh section to the supervisor's config.
func (c *Config) SupervisorConfig() supervisor.Config {
	sc := supervisor.DefaultConfig()
	if c.SSH.Path != "" {
		sc.SSHPath = c.SSH.Path
	}
	if c.SSH.GracePeriod > 0 {
		sc.GracePeriod = c.SSH.GracePeriod
	}
	if c.SSH.StopWait > 0 {
		sc.StopWait = c.SSH.StopWait
	}
	if c.Events.Buffer > 0 {
		sc.EventBuffer = c.Events.Buffer
	}
	sc.SSH = c.TunnelOptions()
	return sc
}
