package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/flush"
	"github.com/ethpandaops/metricoor/internal/ingest"
	"github.com/ethpandaops/metricoor/internal/metric"
	"github.com/ethpandaops/metricoor/internal/sink"
)

// Config is the top-level configuration for the metricoor agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Ingest configures the trace ingress server.
	Ingest ingest.Config `yaml:"ingest"`

	// Flush configures buffering and flush timing.
	Flush flush.Config `yaml:"flush"`

	// Sinks configures delivery backends.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// Tags are added to every metric. Tags set on an event win.
	Tags metric.Tags `yaml:"tags"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest:   ingest.DefaultConfig(),
		Flush:    flush.DefaultConfig(),
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills fields left unset by the file.
func (c *Config) ApplyDefaults() {
	c.Ingest.ApplyDefaults()
	c.Flush.ApplyDefaults()
	c.Sinks.ApplyDefaults()
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if err := c.Flush.Validate(); err != nil {
		return err
	}

	if err := c.Sinks.Validate(); err != nil {
		return err
	}

	for k, v := range c.Tags {
		if k == "" {
			return fmt.Errorf("tags: empty tag name")
		}

		// Reuse event validation for the scalar check.
		check := metric.Event{Type: metric.TypeCount, Name: "tags", Tags: metric.Tags{k: v}}
		if err := metric.Validate(check); err != nil {
			return fmt.Errorf("tags.%s: %w", k, err)
		}
	}

	return nil
}
