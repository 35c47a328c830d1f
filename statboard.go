package statboard

import (
	"context"
	"encoding/json"
	"time"
)

// Handler receives bus emissions. For server-pushed events the payload is the
// raw envelope payload (json.RawMessage); the well-known lifecycle topics
// carry typed payloads (see the topic constants).
type Handler func(topic string, payload any)

// Client is the connection layer consumed by the rest of the system.
//
// A Client owns exactly one logical connection, re-established on failure,
// never load-balanced across sockets. All methods are safe for concurrent use.
type Client interface {
	// Connect starts (or restarts) the connection to url. An empty url reuses
	// the last known target. The url is validated synchronously: only ws/wss
	// schemes are accepted, and ws is refused for non-loopback hosts unless
	// insecure transport is explicitly allowed. A violation returns a
	// *ConfigError before anything is dialed.
	//
	// Calling Connect while a connection is live tears the current transport
	// down first: outstanding backoff timers are cancelled, pending requests
	// are rejected, and the attempt counter resets.
	Connect(url string) error

	// WaitForReady blocks until the connection first reaches
	// StateConnected. It returns immediately if already connected, and
	// returns ErrUnreachable if the reconnect-attempt cap is exhausted
	// before the connection is ready.
	WaitForReady(ctx context.Context) error

	// Request sends a correlated request and blocks for the matching
	// response. timeout <= 0 uses the configured default. The returned error
	// is ErrTimeout if the deadline elapsed, ErrConnectionLost if the
	// transport dropped while the request was pending, or ErrNotConnected /
	// ErrQueueFull when issued before the connection is ready.
	Request(ctx context.Context, reqType string, payload any, timeout time.Duration) (json.RawMessage, error)

	// On subscribes handler to a topic and returns a subscription id for
	// Off. Topics are either the well-known lifecycle topics or the envelope
	// type of server-pushed events.
	On(topic string, handler Handler) string

	// Once subscribes handler for a single delivery.
	Once(topic string, handler Handler) string

	// Off removes a subscription by id. Unknown ids are ignored.
	Off(id string)

	// State returns the current lifecycle state.
	State() State

	// Details returns an immutable snapshot of the connection.
	Details() Details

	// Close tears down the connection, cancels all timers, and rejects all
	// pending requests and waiters. The Client cannot be reused after Close.
	Close() error
}
