package config

import (
	"fmt"
	"strings"
)

// LoggingConfig selects level, encoding and destination for the zap logger,
// plus per-category switches keyed by logging category name ("node", "bus", ...).
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`   // empty writes to stderr
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// IsCategoryEnabled reports whether a category logs. Unlisted categories do.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if on, ok := c.Categories[category]; ok {
		return on
	}
	return true
}

func (c *LoggingConfig) validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q (valid: debug, info, warn, error)", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (valid: json, console)", c.Format)
	}
	return nil
}
