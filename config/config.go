package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/repairdispatch/core/dispatch"
	"github.com/kilianp07/repairdispatch/core/metrics"
	"github.com/kilianp07/repairdispatch/infra/mqtt"
)

type Config struct {
	Dispatch  dispatch.Config `json:"dispatch"`
	Store     StoreConfig     `json:"store"`
	Logging   LoggingConfig   `json:"logging"`
	MQTT      mqtt.Config     `json:"mqtt"`
	Metrics   metrics.Config  `json:"metrics"`
	HTTP      HTTPConfig      `json:"http"`
	Sentry    SentryConfig    `json:"sentry"`
	Simulator SimulatorConfig `json:"simulator"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.Store.SetDefaults()
	c.Logging.SetDefaults()
	c.MQTT.SetDefaults()
	c.Simulator.SetDefaults()
	c.Telemetry.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		section string
		fn      func() error
	}{
		{"dispatch", c.Dispatch.Validate},
		{"store", c.Store.Validate},
		{"logging", c.Logging.Validate},
		{"mqtt", c.MQTT.Validate},
		{"http", c.HTTP.Validate},
		{"simulator", c.Simulator.Validate},
		{"telemetry", c.telemetryValidate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.section, err)
		}
	}
	return nil
}

func (c Config) telemetryValidate() error {
	if c.Telemetry.Enabled && !c.MQTT.Enabled {
		return fmt.Errorf("requires mqtt.enabled")
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
