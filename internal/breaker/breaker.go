package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; limited trial calls allowed.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned by Execute while the circuit is open. It carries
// the remaining cool-down so callers can schedule around it.
type OpenError struct {
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open: retry in %s", e.Remaining)
}

// ErrTestingCapacity is returned when the half-open trial budget is spent.
var ErrTestingCapacity = errors.New("circuit half-open: testing capacity reached")

// IsOpen reports whether err is a circuit-open rejection.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	ResetTimeout     time.Duration // Cool-down before half-open probing
	MaxHalfOpenCalls int           // Trial calls permitted while half-open

	// OnStateChange is invoked (outside the breaker lock) on every
	// state transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		MaxHalfOpenCalls: 1,
	}
}

// Breaker is a circuit breaker over a single guarded operation class.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	trippedAt     time.Time
	halfOpenCalls int
}

// New creates a Breaker. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.MaxHalfOpenCalls <= 0 {
		cfg.MaxHalfOpenCalls = def.MaxHalfOpenCalls
	}
	return &Breaker{
		cfg: cfg,
		now: time.Now,
	}
}

// Execute runs op under the circuit's admission rules and records its
// outcome. While open it rejects with *OpenError without invoking op;
// past the half-open trial budget it rejects with ErrTestingCapacity.
func (b *Breaker) Execute(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// allow admits or rejects a call based on the current state.
// Open transitions to half-open on the first call after the cool-down.
func (b *Breaker) allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		elapsed := b.now().Sub(b.trippedAt)
		if elapsed < b.cfg.ResetTimeout {
			remaining := b.cfg.ResetTimeout - elapsed
			b.mu.Unlock()
			return &OpenError{Remaining: remaining}
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 1
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.MaxHalfOpenCalls {
			b.mu.Unlock()
			return ErrTestingCapacity
		}
		b.halfOpenCalls++
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.halfOpenCalls = 0
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.trippedAt = b.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.trippedAt = b.now()
		b.halfOpenCalls = 0
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
