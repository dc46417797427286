package config

import (
	"fmt"
	"net"
)

// APIConfig configures the HTTP API. An empty Addr disables it.
type APIConfig struct {
	Addr string `json:"addr"`
	// Token, when set, must be sent as a bearer token.
	Token       string   `json:"token"`
	CORSOrigins []string `json:"cors_origins"`
}

func (c APIConfig) Validate() error {
	if c.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", c.Addr, err)
	}
	return nil
}
