package ledger

import "time"

// Config holds configuration for the Ledger.
type Config struct {
	// MaxAttempts is the number of read-compute-write attempts per operation
	// before giving up on concurrent writers.
	// Default: 5
	// Max: 100
	MaxAttempts int

	// RetryInitialInterval is the first pause after a lost write race.
	// Pauses grow exponentially with jitter.
	// Default: 10ms
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps the pause between attempts.
	// Default: 200ms
	RetryMaxInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          5,
		RetryInitialInterval: 10 * time.Millisecond,
		RetryMaxInterval:     200 * time.Millisecond,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.MaxAttempts > 100 {
		c.MaxAttempts = 100
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 10 * time.Millisecond
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		c.RetryMaxInterval = max(200*time.Millisecond, c.RetryInitialInterval)
	}
}
