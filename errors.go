package statboard

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the connection layer. Match with errors.Is.
var (
	// ErrTimeout rejects a single request whose deadline elapsed before a
	// matching response arrived. Only that request is affected.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionLost bulk-rejects every pending request when the
	// transport drops.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotConnected is returned by Request when the connection is not
	// established and request queueing is disabled.
	ErrNotConnected = errors.New("not connected")

	// ErrQueueFull is returned by Request when the pre-connect queue is at
	// its configured depth.
	ErrQueueFull = errors.New("request queue full")

	// ErrUnreachable rejects WaitForReady callers when the configured
	// reconnect-attempt cap is exhausted before the connection is ready.
	ErrUnreachable = errors.New("reconnect attempts exhausted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// ConfigError reports an invalid URL or disallowed scheme. It is returned
// synchronously by Connect before any network activity and is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}
