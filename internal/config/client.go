package config

import (
	"golang.org/x/time/rate"

	"github.com/statboard/statboard/internal/connection"
)

// ClientConfig maps the file configuration onto a connection.Config.
func (c *Config) ClientConfig() connection.Config {
	cc := connection.DefaultConfig()

	cc.AllowInsecure = c.Server.AllowInsecure
	cc.ReconnectBaseDelay = c.Connection.ReconnectBaseDelay
	cc.ReconnectMaxDelay = c.Connection.ReconnectMaxDelay
	cc.MaxReconnectAttempts = c.Connection.MaxReconnectAttempts
	cc.ReconnectJitter = c.Connection.ReconnectJitter
	cc.RequestTimeout = c.Connection.RequestTimeout
	cc.QueueDepth = c.Connection.QueueDepth
	cc.EventHistorySize = c.Connection.EventHistorySize
	cc.SendRate = rate.Limit(c.Connection.SendRate)
	cc.SendBurst = c.Connection.SendBurst
	cc.ProbeInterval = c.Probe.Interval
	cc.ProbeTimeout = c.Probe.Timeout

	return cc
}
