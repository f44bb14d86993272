package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mvasquez/tradelink/internal/backoff"
)

// State represents the recovery state machine.
type State int

const (
	StateStable     State = iota // Healthy; no recovery in progress.
	StateRecovering              // Backoff-delayed reconnects scheduled.
	StateSuspended               // Too many failures; waiting out a cool-down.
	StateFailed                  // Attempt budget exhausted; manual reset required.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateRecovering:
		return "recovering"
	case StateSuspended:
		return "suspended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectFunc performs one reconnection attempt.
type ConnectFunc func() error

// Config holds coordinator parameters.
type Config struct {
	FailureThreshold  int           // Failures before suspension
	SuspensionTimeout time.Duration // Cool-down before auto-resume
	MaxAttempts       int           // Reconnect attempts before giving up
	Backoff           backoff.Config

	// OnStateChange is invoked (outside the lock) on every transition.
	OnStateChange func(from, to State)

	// OnResumed fires when a suspension cool-down ends.
	OnResumed func()

	// OnReconnected fires when a scheduled reconnect attempt succeeds.
	OnReconnected func()
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuspensionTimeout: 60 * time.Second,
		MaxAttempts:       10,
		Backoff:           backoff.DefaultConfig(),
	}
}

// Coordinator runs the recovery state machine for one connection.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	bo     *backoff.Calculator

	mu           sync.Mutex
	state        State
	failureCount int
	attempt      int
	lastFailure  time.Time
	pending      bool // retry scheduled or executing
	retryTimer   *time.Timer
	suspendTimer *time.Timer
	disposed     bool
}

// New creates a Coordinator. Zero-valued config fields fall back to defaults.
func New(cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuspensionTimeout <= 0 {
		cfg.SuspensionTimeout = def.SuspensionTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	return &Coordinator{
		cfg:    cfg,
		logger: logger,
		bo:     backoff.New(cfg.Backoff),
	}
}

// RecordFailure counts one failure. Reaching the threshold outside of an
// active recovery suspends the coordinator for the cool-down period.
func (c *Coordinator) RecordFailure(err error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.failureCount++
	c.lastFailure = time.Now()
	count := c.failureCount

	if count >= c.cfg.FailureThreshold && c.state == StateStable {
		from := c.state
		c.state = StateSuspended
		c.suspendTimer = time.AfterFunc(c.cfg.SuspensionTimeout, c.resume)
		c.mu.Unlock()

		c.logger.Warn("failure threshold reached, suspending recovery",
			"failures", count,
			"cooldown", c.cfg.SuspensionTimeout,
			"error", err,
		)
		c.notify(from, StateSuspended)
		return
	}
	c.mu.Unlock()

	c.logger.Debug("failure recorded", "failures", count, "error", err)
}

// AttemptReconnection schedules a backoff-delayed reconnect and reports
// whether one was initiated. It is a no-op while suspended, failed, or
// when a retry is already in flight.
func (c *Coordinator) AttemptReconnection(connect ConnectFunc) bool {
	c.mu.Lock()
	if c.disposed || c.state == StateSuspended || c.state == StateFailed || c.pending {
		c.mu.Unlock()
		return false
	}

	from := c.state
	c.state = StateRecovering
	c.attempt++
	attempt := c.attempt
	c.pending = true

	delay := c.bo.NextDelay()
	c.retryTimer = time.AfterFunc(delay, func() {
		c.runAttempt(connect)
	})
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"max_attempts", c.cfg.MaxAttempts,
		"delay", delay,
	)
	c.notify(from, StateRecovering)
	return true
}

// UpdateAuthState cancels all pending recovery when authentication is lost;
// retrying without a credential cannot succeed.
func (c *Coordinator) UpdateAuthState(authenticated bool) {
	if authenticated {
		return
	}
	c.mu.Lock()
	mustReset := !c.disposed && c.state != StateStable
	c.mu.Unlock()

	if mustReset {
		c.logger.Info("authentication lost, cancelling recovery")
		c.Reset()
	}
}

// Reset cancels timers and returns to stable with zeroed counters.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	from := c.state
	c.cancelTimersLocked()
	c.state = StateStable
	c.failureCount = 0
	c.attempt = 0
	c.pending = false
	c.bo.Reset()
	c.mu.Unlock()

	c.notify(from, StateStable)
}

// Dispose cancels all timers and makes the coordinator inert.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.cancelTimersLocked()
	c.pending = false
	c.mu.Unlock()
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailureCount returns the accumulated failure count.
func (c *Coordinator) FailureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount
}

// Attempt returns the current reconnect attempt number.
func (c *Coordinator) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// LastFailure returns the time of the most recent recorded failure.
func (c *Coordinator) LastFailure() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFailure
}

// RetryScheduled reports whether a reconnect is scheduled or executing.
func (c *Coordinator) RetryScheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// runAttempt executes one scheduled reconnect. State may have moved between
// scheduling and firing, so it re-checks before acting.
func (c *Coordinator) runAttempt(connect ConnectFunc) {
	c.mu.Lock()
	if c.disposed || c.state != StateRecovering {
		c.pending = false
		c.mu.Unlock()
		return
	}
	attempt := c.attempt
	c.mu.Unlock()

	err := connect()

	c.mu.Lock()
	c.pending = false
	if c.disposed {
		c.mu.Unlock()
		return
	}

	if err == nil {
		from := c.state
		c.state = StateStable
		c.failureCount = 0
		c.attempt = 0
		c.bo.Reset()
		c.mu.Unlock()

		c.logger.Info("reconnected", "attempt", attempt)
		c.notify(from, StateStable)
		if c.cfg.OnReconnected != nil {
			c.cfg.OnReconnected()
		}
		return
	}

	c.failureCount++
	c.lastFailure = time.Now()
	stillRecovering := c.state == StateRecovering
	exhausted := c.attempt >= c.cfg.MaxAttempts

	if stillRecovering && exhausted {
		c.state = StateFailed
		c.mu.Unlock()

		c.logger.Error("reconnect attempts exhausted",
			"attempts", attempt,
			"error", err,
		)
		c.notify(StateRecovering, StateFailed)
		return
	}
	c.mu.Unlock()

	c.logger.Warn("reconnect attempt failed",
		"attempt", attempt,
		"error", err,
	)
	if stillRecovering {
		c.AttemptReconnection(connect)
	}
}

// resume ends a suspension cool-down.
func (c *Coordinator) resume() {
	c.mu.Lock()
	if c.disposed || c.state != StateSuspended {
		c.mu.Unlock()
		return
	}
	c.state = StateStable
	c.failureCount = 0
	c.attempt = 0
	c.bo.Reset()
	c.mu.Unlock()

	c.logger.Info("suspension ended, resuming")
	c.notify(StateSuspended, StateStable)
	if c.cfg.OnResumed != nil {
		c.cfg.OnResumed()
	}
}

// cancelTimersLocked stops pending timers. Caller holds mu.
func (c *Coordinator) cancelTimersLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.suspendTimer != nil {
		c.suspendTimer.Stop()
		c.suspendTimer = nil
	}
}

func (c *Coordinator) notify(from, to State) {
	if from != to && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}
