package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind identifies a transport variant.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSSE       Kind = "sse"
	KindPoll      Kind = "poll"
)

// DefaultOrder is the failover priority: primary duplex stream first,
// then server-push, then polling.
var DefaultOrder = []Kind{KindWebSocket, KindSSE, KindPoll}

// Endpoint paths relative to the configured base URL.
const (
	streamPath = "/v1/stream"
	eventsPath = "/v1/events"
	pollPath   = "/v1/poll"
	sendPath   = "/v1/send"
)

// Errors
var (
	ErrNoToken         = errors.New("transport: no access token")
	ErrNotConnected    = errors.New("transport: not connected")
	ErrAlreadyClosed   = errors.New("transport: already closed")
	ErrUnsupportedKind = errors.New("transport: unsupported kind")
)

// TokenProvider supplies the bearer credential for connecting.
// Token acquisition and storage are external concerns.
type TokenProvider interface {
	// AccessToken returns the current bearer token, or "" when absent
	// or expired.
	AccessToken() string

	// IsAuthenticated reports whether a usable credential exists.
	IsAuthenticated() bool
}

// Message wraps raw inbound bytes with a receive timestamp.
type Message struct {
	Data       []byte
	ReceivedAt time.Time
}

// Transport is a single logical connection to the backend. A Transport is
// single-use: after Disconnect a fresh instance must be created.
type Transport interface {
	// Kind returns the variant identifier.
	Kind() Kind

	// Connect establishes the connection. It fails fast with ErrNoToken
	// when no credential is available, and is bounded by the configured
	// connect timeout.
	Connect(ctx context.Context) error

	// Send writes one outbound message.
	Send(data []byte) error

	// Disconnect tears the connection down. Idempotent and safe to call
	// when not connected.
	Disconnect(reason string) error

	// Messages returns the inbound message stream.
	Messages() <-chan Message

	// Errors returns fatal connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// Config configures a transport instance.
type Config struct {
	BaseURL   string        // http(s) base URL of the backend
	DeviceID  string        // Stable client device identifier
	UserAgent string        // Optional user agent, sent as query param + header
	Tokens    TokenProvider // Bearer credential source

	ConnectTimeout time.Duration // Bound on connection establishment
	WriteTimeout   time.Duration // Write deadline for sends
	BufferSize     int           // Inbound message channel buffer
	PollInterval   time.Duration // Poll variant cadence
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     1000,
		PollInterval:   2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
}

// New creates a transport of the given kind.
func New(kind Kind, cfg Config, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	switch kind {
	case KindWebSocket:
		return newWebSocket(cfg, logger.With("transport", kind)), nil
	case KindSSE:
		return newSSE(cfg, logger.With("transport", kind)), nil
	case KindPoll:
		return newPoll(cfg, logger.With("transport", kind)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

// token fetches the bearer credential, failing fast when absent. Absence is
// an auth condition, never surfaced as a network failure.
func token(cfg Config) (string, error) {
	if cfg.Tokens == nil || !cfg.Tokens.IsAuthenticated() {
		return "", ErrNoToken
	}
	tok := cfg.Tokens.AccessToken()
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}
