// Package client constructs statboard connection clients.
package client

import (
	"log/slog"

	"github.com/statboard/statboard"
	"github.com/statboard/statboard/internal/connection"
)

// Config configures a client. See connection.Config for field documentation.
type Config = connection.Config

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return connection.DefaultConfig()
}

// New creates a disconnected client. Nothing is dialed until Connect.
//
// A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) statboard.Client {
	return connection.NewManager(cfg, logger)
}
