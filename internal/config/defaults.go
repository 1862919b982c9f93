package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultSourceTimeout        = 30 * time.Second
	DefaultSourceMaxRetries     = 3
	DefaultPingInterval         = 15 * time.Second
	DefaultPongTimeout          = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultWriteTimeout         = 5 * time.Second
	DefaultMessageBufferSize    = 1000
	DefaultTargetTimeout        = 30 * time.Second
	DefaultSyncRetryAttempts    = 2
	DefaultSyncRetryBackoff     = 500 * time.Millisecond
	DefaultSyncCallTimeout      = 30 * time.Second
	DefaultSyncEventBuffer      = 1000
	DefaultReconcileInterval    = 5 * time.Minute
	DefaultReconcileTimeout     = 10 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultDBMaxConns           = 10
	DefaultDBMinConns           = 2
	DefaultJournalBatchSize     = 100
	DefaultJournalFlushInterval = 1 * time.Second
	DefaultJournalBufferSize    = 1000
	DefaultHealthPort           = 8080
	DefaultHealthPath           = "/healthz"
)

func (c *RelayConfig) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	// Source defaults
	if c.Source.Timeout == 0 {
		c.Source.Timeout = DefaultSourceTimeout
	}
	if c.Source.MaxRetries == 0 {
		c.Source.MaxRetries = DefaultSourceMaxRetries
	}

	// Connection defaults
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PongTimeout == 0 {
		c.Connection.PongTimeout = DefaultPongTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.MessageBufferSize == 0 {
		c.Connection.MessageBufferSize = DefaultMessageBufferSize
	}

	// Target defaults
	for i := range c.Targets {
		if c.Targets[i].Timeout == 0 {
			c.Targets[i].Timeout = DefaultTargetTimeout
		}
	}

	// Sync defaults
	if c.Sync.RetryAttempts == 0 {
		c.Sync.RetryAttempts = DefaultSyncRetryAttempts
	}
	if c.Sync.RetryBackoff == 0 {
		c.Sync.RetryBackoff = DefaultSyncRetryBackoff
	}
	if c.Sync.CallTimeout == 0 {
		c.Sync.CallTimeout = DefaultSyncCallTimeout
	}
	if c.Sync.EventBuffer == 0 {
		c.Sync.EventBuffer = DefaultSyncEventBuffer
	}

	// Reconcile defaults
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = DefaultReconcileInterval
	}
	if c.Reconcile.Timeout == 0 {
		c.Reconcile.Timeout = DefaultReconcileTimeout
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultDBMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultDBMinConns
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultJournalBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultJournalFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
