package config

import (
	"errors"
	"fmt"
)

var knownTransports = map[string]bool{
	"websocket": true,
	"sse":       true,
	"poll":      true,
}

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}

	for _, name := range c.Transports.Order {
		if !knownTransports[name] {
			return fmt.Errorf("transports.order: unknown transport %q", name)
		}
	}

	if c.Backoff.JitterFactor < 0 || c.Backoff.JitterFactor > 1 {
		return fmt.Errorf("backoff.jitter_factor must be between 0 and 1, got %g", c.Backoff.JitterFactor)
	}
	if c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		return errors.New("backoff.max_delay cannot be less than initial_delay")
	}

	if c.Heartbeat.GoodThreshold > c.Heartbeat.DegradedThreshold {
		return errors.New("heartbeat.good_threshold cannot exceed degraded_threshold")
	}

	if c.Journal.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
