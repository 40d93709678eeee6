package status

import "time"

// State enumerates the tunnel lifecycle states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	// StateReconnecting is reserved; no automatic retry policy produces it.
	StateReconnecting State = "reconnecting"
)

// Status is the tagged current state of one tunnel. The companion fields
// are meaningful only for the states that carry them: ConnectedAt for
// connected, Message/OccurredAt for error, Attempt for reconnecting.
type Status struct {
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
}

// Disconnected is the implicit status of a tunnel that was never started.
func Disconnected() Status { return Status{State: StateDisconnected} }

func Connecting() Status { return Status{State: StateConnecting} }

func Connected(at time.Time) Status {
	return Status{State: StateConnected, ConnectedAt: at}
}

func Error(msg string, at time.Time) Status {
	return Status{State: StateError, Message: msg, OccurredAt: at}
}

// Update is one status transition, published per live subscriber.
// Detail repeats Status.Message for error transitions so consumers that
// only read events do not need the tracker.
type Update struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}
