// Package config loads and validates the geosyncctl configuration.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const defaultDebounceMs = 200
const defaultUpdateIntervalMs = 5000
const defaultNotifyIntervalMs = 30000

var defaultCollections = []string{"donations", "requests", "volunteers"}

// LoadAppConfig loads and validates the configuration from a yaml file.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	v := validator.New()
	if err := v.Struct(cfg.Store); err != nil {
		return nil, err
	}
	if err := v.Struct(cfg.Sync); err != nil {
		return nil, err
	}
	// bbox is optional; if present validate it
	if cfg.Sync.Bbox != nil {
		if err := v.Struct(cfg.Sync.Bbox); err != nil {
			return nil, err
		}
	}
	if err := v.Struct(cfg.Tracking); err != nil {
		return nil, err
	}

	if len(cfg.Sync.Collections) == 0 {
		cfg.Sync.Collections = defaultCollections
	}
	if cfg.Sync.DebounceMs == 0 {
		cfg.Sync.DebounceMs = defaultDebounceMs
	}
	if cfg.Tracking.UpdateIntervalMs == 0 {
		cfg.Tracking.UpdateIntervalMs = defaultUpdateIntervalMs
	}
	if cfg.Tracking.NotifyIntervalMs == 0 {
		cfg.Tracking.NotifyIntervalMs = defaultNotifyIntervalMs
	}

	return &cfg, nil
}
