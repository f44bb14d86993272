package connection

import (
	"errors"
	"time"

	"github.com/mvasquez/tradelink/internal/breaker"
	"github.com/mvasquez/tradelink/internal/heartbeat"
	"github.com/mvasquez/tradelink/internal/resilience"
	"github.com/mvasquez/tradelink/internal/transport"
)

// Errors
var (
	ErrDisposed        = errors.New("connection: manager disposed")
	ErrNotConnected    = errors.New("connection: not connected")
	ErrStreamNotActive = errors.New("connection: stream session not active")
)

// Status is the externally visible connection state. Transitions are the
// only mutation path; there are no direct writes from outside the manager.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusRecovering
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// DesiredState is the caller's declared intent, owned exclusively by the
// manager and mutated only through SetDesiredState.
type DesiredState struct {
	Connected       bool
	StreamingActive bool
}

// DesiredUpdate is a partial desired-state change; nil fields keep their
// current value.
type DesiredUpdate struct {
	Connected       *bool
	StreamingActive *bool
}

// EventKind identifies an observable manager event.
type EventKind string

const (
	EventStatusChange       EventKind = "status_change"
	EventCircuitChange      EventKind = "circuit_change"
	EventResilienceChange   EventKind = "resilience_change"
	EventQualityChange      EventKind = "quality_change"
	EventHeartbeatTimeout   EventKind = "heartbeat_timeout"
	EventAuthFailure        EventKind = "auth_failure"
	EventSessionInvalidated EventKind = "session_invalidated"
	EventUnknownMessage     EventKind = "unknown_message"
	EventReconnected        EventKind = "reconnected"
)

// Event is one observable state change, published on the manager's
// event stream.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Status  Status
	Quality heartbeat.Quality
	Detail  string
	Err     error
	Attempt int
}

// Config configures a Manager.
type Config struct {
	Transport      transport.Config
	TransportOrder []transport.Kind
	Heartbeat      heartbeat.Config
	Breaker        breaker.Config
	Resilience     resilience.Config

	RequestTimeout  time.Duration // Correlated request deadline
	EventBufferSize int           // Event stream buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport:       transport.DefaultConfig(),
		TransportOrder:  transport.DefaultOrder,
		Heartbeat:       heartbeat.DefaultConfig(),
		Breaker:         breaker.DefaultConfig(),
		Resilience:      resilience.DefaultConfig(),
		RequestTimeout:  10 * time.Second,
		EventBufferSize: 100,
	}
}

// Stats provides a snapshot of manager health.
type Stats struct {
	Status          Status
	Resilience      resilience.State
	Circuit         breaker.State
	Quality         heartbeat.Quality
	ActiveTransport transport.Kind
	PendingRequests int
	Reconnects      int64
	ParseErrors     int64
	UnknownMessages int64
}
