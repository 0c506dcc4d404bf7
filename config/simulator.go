package config

import (
	"fmt"
	"time"
)

// SimulatorConfig drives the master simulator.
type SimulatorConfig struct {
	AcceptRate float64 `json:"accept_rate"`
	RejectRate float64 `json:"reject_rate"`
	DelayMS    int     `json:"delay_ms"`
	Seed       int64   `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *SimulatorConfig) SetDefaults() {
	if c.AcceptRate == 0 && c.RejectRate == 0 {
		c.AcceptRate = 0.5
		c.RejectRate = 0.3
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Validate checks the rates form a probability split.
func (c SimulatorConfig) Validate() error {
	if c.AcceptRate < 0 || c.RejectRate < 0 || c.AcceptRate+c.RejectRate > 1 {
		return fmt.Errorf("accept_rate and reject_rate must be non-negative and sum to at most 1")
	}
	if c.DelayMS < 0 {
		return fmt.Errorf("delay_ms must not be negative")
	}
	return nil
}

// Delay returns the answer delay.
func (c SimulatorConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}
