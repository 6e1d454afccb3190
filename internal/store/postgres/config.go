package postgres

import (
	"context"
	"fmt"
	"time"
)

// StoreConfig holds settings shared by the PostgreSQL stores.
// Pool configuration is handled separately via PoolConfig.
type StoreConfig struct {
	// QueryTimeout bounds each statement. 0 relies on the caller's context.
	QueryTimeout time.Duration `help:"maximum duration of a single query (0 uses the request context only)" default:"10s"`

	// CompressionLevel is the zstd level used for stored batches (1-4).
	CompressionLevel int `help:"zstd level for stored batches: 1 fastest, 4 best" default:"2"`
}

// Validate checks that the configuration is valid.
func (c *StoreConfig) Validate() error {
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4, got %d", c.CompressionLevel)
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *StoreConfig) ApplyDefaults() {
	if c.CompressionLevel == 0 {
		c.CompressionLevel = 2
	}
}

// withTimeout bounds ctx by QueryTimeout when one is configured.
func (c StoreConfig) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.QueryTimeout)
}
