package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch-related settings.
type Config struct {
	// ResponseWindowSeconds is how long a master has to answer an offer.
	ResponseWindowSeconds int `json:"response_window_seconds"`
	// RepositoryTimeoutSeconds bounds repository calls made from timer callbacks.
	RepositoryTimeoutSeconds int           `json:"repository_timeout_seconds"`
	EventBuffer              int           `json:"event_buffer"`
	Scoring                  ScoringConfig `json:"scoring"`
}

// ScoringConfig tunes the candidate scorer.
type ScoringConfig struct {
	ProximityWeight      float64 `json:"proximity_weight"`
	ReputationWeight     float64 `json:"reputation_weight"`
	ExperienceWeight     float64 `json:"experience_weight"`
	DecayKm              float64 `json:"decay_km"`
	ExperienceSaturation int     `json:"experience_saturation"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ResponseWindowSeconds == 0 {
		c.ResponseWindowSeconds = 60
	}
	if c.RepositoryTimeoutSeconds == 0 {
		c.RepositoryTimeoutSeconds = 5
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
	def := NewScorer()
	s := &c.Scoring
	if s.ProximityWeight == 0 && s.ReputationWeight == 0 && s.ExperienceWeight == 0 {
		s.ProximityWeight = def.ProximityWeight
		s.ReputationWeight = def.ReputationWeight
		s.ExperienceWeight = def.ExperienceWeight
	}
	if s.DecayKm == 0 {
		s.DecayKm = def.DecayKm
	}
	if s.ExperienceSaturation == 0 {
		s.ExperienceSaturation = def.ExperienceSaturation
	}
}

// Validate checks the settings after defaults were applied.
func (c Config) Validate() error {
	if c.ResponseWindowSeconds <= 0 {
		return fmt.Errorf("response_window_seconds must be positive")
	}
	if c.RepositoryTimeoutSeconds <= 0 {
		return fmt.Errorf("repository_timeout_seconds must be positive")
	}
	s := c.Scoring
	if s.ProximityWeight < 0 || s.ReputationWeight < 0 || s.ExperienceWeight < 0 {
		return fmt.Errorf("scoring weights must not be negative")
	}
	if s.DecayKm <= 0 {
		return fmt.Errorf("scoring.decay_km must be positive")
	}
	if s.ExperienceSaturation <= 0 {
		return fmt.Errorf("scoring.experience_saturation must be positive")
	}
	return nil
}

// ResponseWindow returns the offer response window.
func (c Config) ResponseWindow() time.Duration {
	return time.Duration(c.ResponseWindowSeconds) * time.Second
}

// RepositoryTimeout returns the timeout used for repository calls that have
// no caller context.
func (c Config) RepositoryTimeout() time.Duration {
	return time.Duration(c.RepositoryTimeoutSeconds) * time.Second
}
