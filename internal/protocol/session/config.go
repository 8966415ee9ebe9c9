package session

import (
	"fmt"
	"time"
)

// Config defines reliable delivery limits.
type Config struct {
	// RetryLimit is the number of retransmissions before a delivery fails.
	RetryLimit int
	// MaxPending bounds the pending table; Send fails once it is full.
	MaxPending int
	// RetryInterval is the fixed wait between transmissions of one message.
	RetryInterval time.Duration
}

// DefaultConfig returns a fixed 2s retry interval with five retransmissions.
func DefaultConfig() Config {
	return Config{
		RetryLimit:    5,
		MaxPending:    64,
		RetryInterval: 2 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.RetryLimit < 0 {
		return fmt.Errorf("session: retry limit must be >= 0, got %d", c.RetryLimit)
	}
	if c.MaxPending <= 0 || c.MaxPending > 1<<16-1 {
		return fmt.Errorf("session: max pending must be in [1,65535], got %d", c.MaxPending)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("session: retry interval must be > 0, got %v", c.RetryInterval)
	}
	return nil
}
