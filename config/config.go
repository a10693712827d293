// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required upstream parameters (gateway URL), use ValidateUpstreamReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Upstream platform
	GatewayURL      string
	UserAgent       string
	SessionID       string
	DefaultIdentity string

	// Chat
	TriggerToken string

	// Upstream reconnect policy
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	// Relay client
	RelayBufferSize        int
	RelayReconnectAttempts int
	RelayReconnectDelay    time.Duration

	// HTTP
	HTTPAddr string

	// Database
	DBDsn string
}

// Load reads environment variables and applies defaults. It doesn't fail if upstream
// parameters are missing; use ValidateUpstreamReady() when you require the connector.
// A missing DB_DSN disables customer auto-creation only, not the relay itself.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.GatewayURL = os.Getenv("UPSTREAM_GATEWAY_URL")
	cfg.UserAgent = os.Getenv("UPSTREAM_USER_AGENT")
	if cfg.UserAgent == "" {
		cfg.UserAgent = "livebridge/1.0"
	}
	cfg.SessionID = os.Getenv("UPSTREAM_SESSION_ID")
	cfg.DefaultIdentity = os.Getenv("DEFAULT_IDENTITY")

	cfg.TriggerToken = os.Getenv("TRIGGER_TOKEN")
	if cfg.TriggerToken == "" {
		cfg.TriggerToken = "jp"
	}

	cfg.ReconnectMaxAttempts = getEnvInt("RECONNECT_MAX_ATTEMPTS", 5)
	var err error
	cfg.ReconnectBaseDelay, err = getEnvDuration("RECONNECT_BASE_DELAY", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.RelayBufferSize = getEnvInt("RELAY_BUFFER_SIZE", 100)
	cfg.RelayReconnectAttempts = getEnvInt("RELAY_RECONNECT_ATTEMPTS", 5)
	cfg.RelayReconnectDelay, err = getEnvDuration("RELAY_RECONNECT_DELAY", 3*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.DBDsn = os.Getenv("DB_DSN")

	return cfg, nil
}

// ValidateUpstreamReady checks required fields for joining an upstream stream.
func (c *Config) ValidateUpstreamReady() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("missing upstream env: require UPSTREAM_GATEWAY_URL")
	}
	return nil
}

func getEnvInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
