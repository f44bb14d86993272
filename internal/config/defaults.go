package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTokenEnv          = "TRADELINK_TOKEN"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultBufferSize        = 1000
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultSampleWindow      = 10
	DefaultGoodThreshold     = 100 * time.Millisecond
	DefaultDegradedThreshold = 300 * time.Millisecond
	DefaultInitialDelay      = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultJitterFactor      = 0.5
	DefaultBreakerThreshold  = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultMaxHalfOpenCalls  = 1
	DefaultFailureThreshold  = 5
	DefaultSuspensionTimeout = 60 * time.Second
	DefaultMaxAttempts       = 10
	DefaultRequestTimeout    = 10 * time.Second
	DefaultEventBuffer       = 100
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
)

func (c *ClientConfig) applyDefaults() {
	// Instance defaults
	if c.Instance.DeviceID == "" {
		c.Instance.DeviceID = c.Instance.ID
	}

	// Server defaults
	if c.Server.TokenEnv == "" {
		c.Server.TokenEnv = DefaultTokenEnv
	}

	// Transport defaults
	if len(c.Transports.Order) == 0 {
		c.Transports.Order = []string{"websocket", "sse", "poll"}
	}
	if c.Transports.ConnectTimeout == 0 {
		c.Transports.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Transports.WriteTimeout == 0 {
		c.Transports.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transports.BufferSize == 0 {
		c.Transports.BufferSize = DefaultBufferSize
	}
	if c.Transports.PollInterval == 0 {
		c.Transports.PollInterval = DefaultPollInterval
	}

	// Heartbeat defaults
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.Timeout == 0 {
		c.Heartbeat.Timeout = DefaultHeartbeatTimeout
	}
	if c.Heartbeat.SampleWindow == 0 {
		c.Heartbeat.SampleWindow = DefaultSampleWindow
	}
	if c.Heartbeat.GoodThreshold == 0 {
		c.Heartbeat.GoodThreshold = DefaultGoodThreshold
	}
	if c.Heartbeat.DegradedThreshold == 0 {
		c.Heartbeat.DegradedThreshold = DefaultDegradedThreshold
	}

	// Backoff defaults
	if c.Backoff.InitialDelay == 0 {
		c.Backoff.InitialDelay = DefaultInitialDelay
	}
	if c.Backoff.MaxDelay == 0 {
		c.Backoff.MaxDelay = DefaultMaxDelay
	}
	if c.Backoff.JitterFactor == 0 {
		c.Backoff.JitterFactor = DefaultJitterFactor
	}

	// Breaker defaults
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultBreakerThreshold
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if c.Breaker.MaxHalfOpenCalls == 0 {
		c.Breaker.MaxHalfOpenCalls = DefaultMaxHalfOpenCalls
	}

	// Resilience defaults
	if c.Resilience.FailureThreshold == 0 {
		c.Resilience.FailureThreshold = DefaultFailureThreshold
	}
	if c.Resilience.SuspensionTimeout == 0 {
		c.Resilience.SuspensionTimeout = DefaultSuspensionTimeout
	}
	if c.Resilience.MaxAttempts == 0 {
		c.Resilience.MaxAttempts = DefaultMaxAttempts
	}

	// Request defaults
	if c.Requests.Timeout == 0 {
		c.Requests.Timeout = DefaultRequestTimeout
	}
	if c.Requests.EventBuffer == 0 {
		c.Requests.EventBuffer = DefaultEventBuffer
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
