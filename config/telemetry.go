package config

import coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"

// TelemetryConfig enables master presence reports over MQTT.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	StatusTopic string `json:"status_topic"`
}

// SetDefaults applies sane defaults.
func (c *TelemetryConfig) SetDefaults() {
	if c.StatusTopic == "" {
		c.StatusTopic = coremqtt.StatusWildcard
	}
}
