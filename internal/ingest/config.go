package ingest

import (
	"errors"
	"strings"
)

// Config configures the trace ingress server.
type Config struct {
	// Addr is the listen address.
	// Defaults to ":8080".
	Addr string `yaml:"addr"`

	// Path is the trace submission path.
	// Defaults to "/v1/traces".
	Path string `yaml:"path"`

	// MetricsChannel is the diagnostics channel carrying metric events.
	// Defaults to "metrics".
	MetricsChannel string `yaml:"metrics_channel"`

	// AuthToken, when set, is required as a bearer token.
	AuthToken string `yaml:"auth_token"`

	// MaxBodyBytes caps the decompressed request body.
	// Defaults to 10 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DefaultConfig returns the default ingress configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		Path:           "/v1/traces",
		MetricsChannel: "metrics",
		MaxBodyBytes:   10 << 20,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Addr == "" {
		c.Addr = defaults.Addr
	}

	if c.Path == "" {
		c.Path = defaults.Path
	}

	if c.MetricsChannel == "" {
		c.MetricsChannel = defaults.MetricsChannel
	}

	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = defaults.MaxBodyBytes
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return errors.New("path must start with /")
	}

	if c.MaxBodyBytes < 0 {
		return errors.New("max_body_bytes must not be negative")
	}

	return nil
}
