package statboard

import "time"

// State is the connection lifecycle state. Exactly one value holds at any
// instant; it is owned exclusively by the connection manager.
type State int

const (
	// StateDisconnected means no connection exists and none is being
	// attempted. This is the initial state, and the terminal state once a
	// configured reconnect-attempt cap is exhausted.
	StateDisconnected State = iota

	// StateConnecting means a transport dial is in flight.
	StateConnecting

	// StateConnected means the socket is open and usable.
	StateConnected

	// StateReconnecting means the connection was lost (or a dial failed) and
	// a backoff timer is running before the next attempt.
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// EventKind classifies a connection history event.
type EventKind string

const (
	EventConnecting       EventKind = "connecting"
	EventConnected        EventKind = "connected"
	EventDisconnected     EventKind = "disconnected"
	EventReconnectAttempt EventKind = "reconnect-attempt"
	EventError            EventKind = "error"
)

// Event is one entry in the bounded connection history. Events are immutable
// once appended; the history is append-only with the oldest entries evicted
// first.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Details is an immutable snapshot of the connection. It is rebuilt as a whole
// on every state transition; callers always receive a copy, never a live
// reference.
type Details struct {
	// State is the lifecycle state at snapshot time.
	State State `json:"state"`

	// URL is the last or pending connection target.
	URL string `json:"url"`

	// Latency is the last measured round-trip time. Zero until the first
	// probe completes.
	Latency time.Duration `json:"latency"`

	// LastConnected and LastDisconnected are zero until the respective
	// transition first occurs.
	LastConnected    time.Time `json:"last_connected"`
	LastDisconnected time.Time `json:"last_disconnected"`

	// ReconnectAttempts counts retries since the last successful connect.
	// Reset to 0 every time the connection reaches StateConnected.
	ReconnectAttempts int `json:"reconnect_attempts"`

	// Events is the bounded connection history, newest last.
	Events []Event `json:"events"`
}

// Well-known bus topics published by the connection layer. Server-pushed
// events are additionally published under their envelope type.
const (
	// TopicStateChanged carries a State payload. Delivered synchronously, in
	// the exact order the state machine transitions, never coalesced.
	TopicStateChanged = "connection-state-changed"

	// TopicDetailsChanged carries a Details payload. Debounced: high-frequency
	// transitions collapse to the most recent snapshot.
	TopicDetailsChanged = "connection-details-changed"

	// TopicLatencyUpdated carries a time.Duration payload. Debounced.
	TopicLatencyUpdated = "latency-updated"

	// TopicLatencyDegraded carries a string describing a failed latency
	// probe. The connection is not torn down for a failed probe.
	TopicLatencyDegraded = "latency-degraded"
)
