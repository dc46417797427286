package config

import (
	"fmt"

	"github.com/kilianp07/tasmota-bridge/core/factory"
)

// HistoryConfig defines state history storage and rotation.
type HistoryConfig struct {
	Enabled bool `json:"enabled"`
	// Backend selects the store type: "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

func (c *HistoryConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Path == "" {
		if c.Backend == "jsonl" {
			c.Path = "history.jsonl"
		} else {
			c.Path = "history.db"
		}
	}
}

func (c HistoryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// Module describes the store for the history factory.
func (c HistoryConfig) Module() factory.ModuleConfig {
	conf := map[string]any{"path": c.Path}
	if c.MaxSizeMB > 0 {
		conf["max_size_mb"] = c.MaxSizeMB
	}
	if c.MaxBackups > 0 {
		conf["max_backups"] = c.MaxBackups
	}
	if c.MaxAgeDays > 0 {
		conf["max_age_days"] = c.MaxAgeDays
	}
	return factory.ModuleConfig{Type: c.Backend, Conf: conf}
}
