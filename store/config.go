package store

// Config holds configuration for the Store.
type Config struct {
	// TableName is the single table holding every entity.
	// Default: "loyalty-system-table"
	TableName string

	// ScanPageSize is the number of items read per Scan request while
	// looking for filter matches.
	// Default: 100
	// Max: 1000
	ScanPageSize int32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TableName:    "loyalty-system-table",
		ScanPageSize: 100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "loyalty-system-table"
	}
	if c.ScanPageSize < 1 {
		c.ScanPageSize = 100
	}
	if c.ScanPageSize > 1000 {
		c.ScanPageSize = 1000
	}
}
