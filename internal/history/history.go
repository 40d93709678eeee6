package history

import (
	"context"
	"time"
)

// Record is one persisted status transition.
type Record struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink receives every status transition the supervisor publishes.
// Writes are best-effort from the supervisor's point of view: errors are
// logged by the caller and never block or fail a lifecycle operation.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, name string, limit int) ([]Record, error)
	Close() error
}

// Config selects and parameterizes a sink backend.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite" or "postgres"; empty disables history

	// SQLite
	Path string `toml:"path,omitempty" mapstructure:"path"`

	// PostgreSQL
	DSN string `toml:"dsn,omitempty" mapstructure:"dsn"`
}
