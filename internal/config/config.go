package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	LogLevel   string           `yaml:"log_level"`
	Source     SourceConfig     `yaml:"source"`
	Connection ConnectionConfig `yaml:"connection"`
	Targets    []TargetConfig   `yaml:"targets"`
	Sync       SyncConfig       `yaml:"sync"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Database   DBConfig         `yaml:"database"`
	Journal    JournalConfig    `yaml:"journal"`
	Health     HealthConfig     `yaml:"health"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SourceConfig holds sale gateway settings.
type SourceConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds Connection Manager settings.
type ConnectionConfig struct {
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MessageBufferSize    int           `yaml:"message_buffer_size"`

	// SeverAfter deliberately kills the session after this uptime to
	// exercise the reconnection path. Diagnostic only; leave unset in
	// production.
	SeverAfter time.Duration `yaml:"sever_after"`
}

// TargetConfig holds one downstream sync target.
type TargetConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig holds orchestrator settings.
type SyncConfig struct {
	// RetryAttempts is the number of extra attempts per failed sync
	// call. -1 disables retries entirely.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	EventBuffer   int           `yaml:"event_buffer"`
}

// ReconcileConfig holds reconciler settings.
type ReconcileConfig struct {
	Disabled bool          `yaml:"disabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DBConfig holds the journal database connection.
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

// JournalConfig holds journal writer settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
