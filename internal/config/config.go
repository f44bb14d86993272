package config

import (
	"time"

	"github.com/mvasquez/tradelink/internal/backoff"
	"github.com/mvasquez/tradelink/internal/breaker"
	"github.com/mvasquez/tradelink/internal/connection"
	"github.com/mvasquez/tradelink/internal/heartbeat"
	"github.com/mvasquez/tradelink/internal/resilience"
	"github.com/mvasquez/tradelink/internal/transport"
)

// ClientConfig is the root configuration for a tradelink client instance.
type ClientConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Transports TransportsConfig `yaml:"transports"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Requests   RequestsConfig   `yaml:"requests"`
	Database   DatabaseConfig   `yaml:"database"`
	Journal    JournalConfig    `yaml:"journal"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID       string `yaml:"id"`
	DeviceID string `yaml:"device_id"` // Defaults to the instance id
}

// ServerConfig holds backend settings.
type ServerConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	TokenEnv  string `yaml:"token_env"` // Env var holding the bearer token
}

// TransportsConfig holds transport failover settings.
type TransportsConfig struct {
	Order          []string      `yaml:"order"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// HeartbeatConfig holds liveness probe settings.
type HeartbeatConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	SampleWindow      int           `yaml:"sample_window"`
	GoodThreshold     time.Duration `yaml:"good_threshold"`
	DegradedThreshold time.Duration `yaml:"degraded_threshold"`
}

// BackoffConfig holds reconnect delay settings.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MaxHalfOpenCalls int           `yaml:"max_half_open_calls"`
}

// ResilienceConfig holds recovery state machine settings.
type ResilienceConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	SuspensionTimeout time.Duration `yaml:"suspension_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// RequestsConfig holds correlated request settings.
type RequestsConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	EventBuffer int           `yaml:"event_buffer"`
}

// DatabaseConfig holds the TimescaleDB connection for the event journal.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
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

// JournalConfig holds event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ManagerConfig builds a connection manager configuration. The token
// provider is supplied by the caller since credential handling lives
// outside the config layer.
func (c *ClientConfig) ManagerConfig(tokens transport.TokenProvider) connection.Config {
	order := make([]transport.Kind, 0, len(c.Transports.Order))
	for _, name := range c.Transports.Order {
		order = append(order, transport.Kind(name))
	}

	return connection.Config{
		Transport: transport.Config{
			BaseURL:        c.Server.BaseURL,
			DeviceID:       c.Instance.DeviceID,
			UserAgent:      c.Server.UserAgent,
			Tokens:         tokens,
			ConnectTimeout: c.Transports.ConnectTimeout,
			WriteTimeout:   c.Transports.WriteTimeout,
			BufferSize:     c.Transports.BufferSize,
			PollInterval:   c.Transports.PollInterval,
		},
		TransportOrder: order,
		Heartbeat: heartbeat.Config{
			Interval:          c.Heartbeat.Interval,
			Timeout:           c.Heartbeat.Timeout,
			SampleWindow:      c.Heartbeat.SampleWindow,
			GoodThreshold:     c.Heartbeat.GoodThreshold,
			DegradedThreshold: c.Heartbeat.DegradedThreshold,
		},
		Breaker: breaker.Config{
			FailureThreshold: c.Breaker.FailureThreshold,
			ResetTimeout:     c.Breaker.ResetTimeout,
			MaxHalfOpenCalls: c.Breaker.MaxHalfOpenCalls,
		},
		Resilience: resilience.Config{
			FailureThreshold:  c.Resilience.FailureThreshold,
			SuspensionTimeout: c.Resilience.SuspensionTimeout,
			MaxAttempts:       c.Resilience.MaxAttempts,
			Backoff: backoff.Config{
				InitialDelay: c.Backoff.InitialDelay,
				MaxDelay:     c.Backoff.MaxDelay,
				JitterFactor: c.Backoff.JitterFactor,
			},
		},
		RequestTimeout:  c.Requests.Timeout,
		EventBufferSize: c.Requests.EventBuffer,
	}
}
