package config

import "time"

// Config is the root configuration for the statboard binaries.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Probe      ProbeConfig      `yaml:"probe"`
	Recorder   RecorderConfig   `yaml:"recorder"`
}

// ServerConfig identifies the dashboard server.
type ServerConfig struct {
	URL           string `yaml:"url"`
	AllowInsecure bool   `yaml:"allow_insecure"` // permit ws:// on non-loopback hosts
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = retry forever
	ReconnectJitter      bool          `yaml:"reconnect_jitter"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	QueueDepth           int           `yaml:"queue_depth"` // 0 = fail fast before connected
	EventHistorySize     int           `yaml:"event_history_size"`
	SendRate             float64       `yaml:"send_rate"` // outbound frames/sec, 0 = unlimited
	SendBurst            int           `yaml:"send_burst"`
}

// ProbeConfig holds latency probe settings.
type ProbeConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 = probing disabled
	Timeout  time.Duration `yaml:"timeout"`
}

// RecorderConfig holds the connection-history recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
