package order

import "github.com/jacentio/loyalty/internal/shard"

// Config holds configuration for the order Service.
type Config struct {
	// StatusShards is the number of GSI2 partitions each order status is
	// spread over. With 1 the partition is exactly STATUS#{status}.
	// Changing it strands orders written under the old layout.
	// Default: 1
	// Max: 256
	StatusShards int

	// DefaultCurrency is applied to orders created without one.
	// Default: USD
	DefaultCurrency string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StatusShards:    1,
		DefaultCurrency: "USD",
	}
}

func (c *Config) validate() {
	c.StatusShards = shard.Clamp(c.StatusShards)
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "USD"
	}
}
