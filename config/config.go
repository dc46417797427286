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

	"github.com/kilianp07/tasmota-bridge/core/bridge"
	"github.com/kilianp07/tasmota-bridge/core/metrics"
	"github.com/kilianp07/tasmota-bridge/infra/mqtt"
	"github.com/kilianp07/tasmota-bridge/infra/statepub"
)

// EnvPrefix marks environment overrides, e.g. K_MQTT__BROKER.
const EnvPrefix = "K_"

type Config struct {
	MQTT      mqtt.Config     `json:"mqtt"`
	Discovery bridge.Config   `json:"discovery"`
	Metrics   metrics.Config  `json:"metrics"`
	History   HistoryConfig   `json:"history"`
	API       APIConfig       `json:"api"`
	Publish   statepub.Config `json:"publish"`
	Sentry    SentryConfig    `json:"sentry"`
}

// Load reads the file at path, applies environment overrides, then defaults
// and validation. An empty path uses the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
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
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
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

func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Discovery.SetDefaults()
	c.History.SetDefaults()
	c.Publish.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section and names the failing one.
func (c Config) Validate() error {
	checks := []struct {
		section string
		fn      func() error
	}{
		{"mqtt", c.MQTT.Validate},
		{"discovery", c.Discovery.Validate},
		{"history", c.History.Validate},
		{"api", c.API.Validate},
		{"publish", c.Publish.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%s: %w", chk.section, err)
		}
	}
	return nil
}
