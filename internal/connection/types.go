package connection

import (
	"time"

	"golang.org/x/time/rate"
)

// Config holds all tunables for a Manager.
type Config struct {
	// AllowInsecure permits ws:// targets on non-loopback hosts.
	AllowInsecure bool

	// Transport settings.
	HandshakeTimeout  time.Duration // WebSocket handshake deadline
	WriteTimeout      time.Duration // Write deadline for sends
	PingTimeout       time.Duration // Max time without a server ping before the connection is stale
	MessageBufferSize int           // Inbound frame channel buffer size

	// Reconnection policy. MaxReconnectAttempts == 0 retries forever.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	ReconnectJitter      bool

	// RequestTimeout is the default deadline for Request.
	RequestTimeout time.Duration

	// QueueDepth bounds requests queued while not connected. 0 disables
	// queueing: such requests fail fast with ErrNotConnected.
	QueueDepth int

	// Latency probe. ProbeInterval == 0 disables probing.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// EventHistorySize caps the details event history.
	EventHistorySize int

	// SendRate limits outbound frames per second. 0 means unlimited.
	SendRate  rate.Limit
	SendBurst int

	// Debounce windows for the high-frequency topics. Zero coalesces
	// same-tick bursts; negative delivers synchronously every time.
	DetailsDebounce time.Duration
	LatencyDebounce time.Duration
}

// Default tunables.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingTimeout       = 30 * time.Second
	DefaultMessageBufferSize = 1000

	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second

	DefaultRequestTimeout = 10 * time.Second
	DefaultQueueDepth     = 64

	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	DefaultEventHistorySize = 50

	DefaultDetailsDebounce = 100 * time.Millisecond
	DefaultLatencyDebounce = 250 * time.Millisecond
)

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  DefaultHandshakeTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		PingTimeout:       DefaultPingTimeout,
		MessageBufferSize: DefaultMessageBufferSize,

		ReconnectBaseDelay: DefaultReconnectBaseDelay,
		ReconnectMaxDelay:  DefaultReconnectMaxDelay,
		ReconnectJitter:    true,

		RequestTimeout: DefaultRequestTimeout,
		QueueDepth:     DefaultQueueDepth,

		ProbeInterval: DefaultProbeInterval,
		ProbeTimeout:  DefaultProbeTimeout,

		EventHistorySize: DefaultEventHistorySize,

		DetailsDebounce: DefaultDetailsDebounce,
		LatencyDebounce: DefaultLatencyDebounce,
	}
}

// applyDefaults fills zero values so a partially populated Config behaves.
func (c *Config) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.MessageBufferSize == 0 {
		c.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.EventHistorySize == 0 {
		c.EventHistorySize = DefaultEventHistorySize
	}
}

// frame wraps raw inbound bytes with the local receive timestamp.
type frame struct {
	data       []byte
	receivedAt time.Time
}
