package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Config holds backoff parameters.
type Config struct {
	InitialDelay time.Duration // Delay for the first attempt
	MaxDelay     time.Duration // Cap on the pre-jitter delay
	JitterFactor float64       // Jitter band half-width, e.g. 0.5 -> [0.5, 1.5]
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.5,
	}
}

// Calculator produces the delay for each successive retry attempt.
// The only state is the attempt counter; Reset zeroes it.
type Calculator struct {
	cfg Config

	mu      sync.Mutex
	attempt int
}

// New creates a Calculator. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFactor <= 0 || cfg.JitterFactor >= 1 {
		cfg.JitterFactor = def.JitterFactor
	}
	return &Calculator{cfg: cfg}
}

// NextDelay increments the attempt counter and returns the delay for the
// new attempt, jittered and floored to a whole millisecond.
func (c *Calculator) NextDelay() time.Duration {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	base := c.BaseDelay(attempt)

	factor := 1 - c.cfg.JitterFactor + rand.Float64()*2*c.cfg.JitterFactor
	delay := time.Duration(float64(base) * factor)
	return delay.Truncate(time.Millisecond)
}

// BaseDelay returns the pre-jitter delay for a given attempt number (1-based).
func (c *Calculator) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxDelay || delay <= 0 {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}

// Attempt returns the current attempt count.
func (c *Calculator) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Reset zeroes the attempt counter.
func (c *Calculator) Reset() {
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
}
