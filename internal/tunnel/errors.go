package tunnel

import (
	"errors"
	"fmt"
)

// Kind classifies tunnel operation failures.
type Kind int

const (
	// KindSpawnFailure means the OS could not create the ssh subprocess.
	KindSpawnFailure Kind = iota
	// KindUnexpectedTermination means the child exited on its own.
	KindUnexpectedTermination
	// KindProbeFailure means a one-shot connectivity test failed.
	KindProbeFailure
	// KindRegistryNotFound means an operation referenced an unknown name or id.
	KindRegistryNotFound
	// KindPersistenceFailure means the tunnel store could not be read or written.
	KindPersistenceFailure
)

func (k Kind) String() string {
	switch k {
	case KindSpawnFailure:
		return "spawn_failure"
	case KindUnexpectedTermination:
		return "unexpected_termination"
	case KindProbeFailure:
		return "probe_failure"
	case KindRegistryNotFound:
		return "registry_not_found"
	case KindPersistenceFailure:
		return "persistence_failure"
	}
	return "unknown"
}

// Error is the typed error returned by supervisor, registry, and probe
// operations. Name is the tunnel name when one applies.
type Error struct {
	Kind Kind
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("tunnel %q: %s: %v", e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and tunnel name.
func NewError(kind Kind, name string, err error) *Error {
	return &Error{Kind: kind, Name: name, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind Kind, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Name: name, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, returning ok=false for untyped errors.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
