package config

import (
	"errors"
	"fmt"
)

// LoggingConfig selects where the lifecycle event history is kept. It is
// unrelated to process logs, which always go to stderr.
type LoggingConfig struct {
	// Backend is "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path defaults to events.jsonl or events.db depending on Backend.
	Path string `json:"path"`
	// Rotation of the jsonl file. A zero MaxSizeMB disables rotation.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path != "" {
		return
	}
	switch c.Backend {
	case "sqlite":
		c.Path = "events.db"
	default:
		c.Path = "events.jsonl"
	}
}

func (c LoggingConfig) Validate() error {
	switch c.Backend {
	case "jsonl":
	case "sqlite":
		if c.MaxSizeMB > 0 {
			return errors.New("rotation only applies to the jsonl backend")
		}
	default:
		return fmt.Errorf("unknown event log backend %q", c.Backend)
	}
	if c.Path == "" {
		return errors.New("path is required")
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return errors.New("rotation limits must not be negative")
	}
	return nil
}
