package history

import (
	"github.com/kilianp07/tasmota-bridge/core/factory"
)

var storeRegistry = factory.NewRegistry[Store]()

func init() {
	_ = storeRegistry.Register("sqlite", func(conf map[string]any) (Store, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			c.Path = "history.db"
		}
		return NewSQLiteStore(c.Path)
	})
	_ = storeRegistry.Register("jsonl", func(conf map[string]any) (Store, error) {
		c := struct {
			Path       string `json:"path"`
			MaxSizeMB  int    `json:"max_size_mb"`
			MaxBackups int    `json:"max_backups"`
			MaxAgeDays int    `json:"max_age_days"`
		}{Path: "history.jsonl", MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 30}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})
}

// NewStore builds the backend named by cfg.Type.
func NewStore(cfg factory.ModuleConfig) (Store, error) {
	return storeRegistry.Create(cfg)
}

// Backends lists the available store types.
func Backends() []string { return storeRegistry.Types() }
