package config

import "os"

// SentryConfig defines settings for Sentry error monitoring.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
}

// SetDefaults takes the environment from APP_ENV.
func (c *SentryConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = os.Getenv("APP_ENV")
	}
}
