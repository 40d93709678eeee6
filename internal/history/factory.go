package history

import "fmt"

// NewFromConfig builds a sink for the configured backend. An empty type
// returns (nil, nil): history disabled.
func NewFromConfig(c Config) (Sink, error) {
	switch c.Type {
	case "":
		return nil, nil
	case "sqlite":
		return NewSQLiteSink(c.Path)
	case "postgres", "postgresql":
		return NewPostgresSink(c.DSN)
	default:
		return nil, fmt.Errorf("unsupported history type %q", c.Type)
	}
}
