// Package config handles scholia configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Engine settings (timings, page size).
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// EngineConfig contains the engine's scheduling and pagination tunables.
type EngineConfig struct {
	// PageSize is the number of events fetched per pagination batch.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// FillRetry is the poll delay when the remote reports it cannot
	// paginate before the local boundary has attached.
	FillRetry time.Duration `yaml:"fill_retry" mapstructure:"fill_retry"`

	// FillSettle is the delay between a completed batch and the next
	// fill attempt, coalescing rapid scroll input.
	FillSettle time.Duration `yaml:"fill_settle" mapstructure:"fill_settle"`

	// AnchorRelease is how long both directions must be idle before the
	// pinned element is released.
	AnchorRelease time.Duration `yaml:"anchor_release" mapstructure:"anchor_release"`

	// ReceiptDebounce is the settle period for read-receipt sends.
	ReceiptDebounce time.Duration `yaml:"receipt_debounce" mapstructure:"receipt_debounce"`

	// PositionDebounce is the settle period for persisting the viewer's
	// resource position.
	PositionDebounce time.Duration `yaml:"position_debounce" mapstructure:"position_debounce"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			PageSize:         10,
			FillRetry:        100 * time.Millisecond,
			FillSettle:       100 * time.Millisecond,
			AnchorRelease:    250 * time.Millisecond,
			ReceiptDebounce:  200 * time.Millisecond,
			PositionDebounce: 1500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Engine.PageSize <= 0 {
		return fmt.Errorf("engine.page_size must be positive, got %d", c.Engine.PageSize)
	}
	for _, check := range []struct {
		name  string
		value time.Duration
	}{
		{"engine.fill_retry", c.Engine.FillRetry},
		{"engine.fill_settle", c.Engine.FillSettle},
		{"engine.anchor_release", c.Engine.AnchorRelease},
		{"engine.receipt_debounce", c.Engine.ReceiptDebounce},
		{"engine.position_debounce", c.Engine.PositionDebounce},
	} {
		if check.value < 0 {
			return fmt.Errorf("%s must not be negative", check.name)
		}
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
