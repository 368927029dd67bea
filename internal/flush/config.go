package flush

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxFlushDelay bounds how stale a buffered metric can get regardless of
	// the configured buffer duration.
	MaxFlushDelay = 30 * time.Second

	defaultMaxBufferSize     = 100
	defaultMaxBufferDuration = 5 * time.Second
	defaultDispatchTimeout   = 30 * time.Second
	defaultMetricPrefix      = "worker."
)

// Config configures buffering and flush cadence.
type Config struct {
	// MaxBufferSize is the number of distinct metric keys that triggers an
	// immediate flush. Defaults to 100.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// MaxBufferDuration is how long a non-empty buffer may wait before a
	// timed flush. In YAML a bare number is seconds; duration strings such
	// as "500ms" also work. Values above 30s are clamped to 30s.
	// Defaults to 5s.
	MaxBufferDuration time.Duration `yaml:"max_buffer_duration"`

	// DispatchTimeout bounds one fanout of a flushed batch to all sinks.
	// Accepts seconds or a duration string. Defaults to 30s.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// DefaultMetrics toggles the metrics synthesised for every trace.
	DefaultMetrics DefaultMetricsConfig `yaml:"default_metrics"`
}

// DefaultMetricsConfig toggles built-in per-trace metrics.
type DefaultMetricsConfig struct {
	// DurationCounters emits cpu_time and wall_time histograms.
	// Defaults to true.
	DurationCounters *bool `yaml:"duration_counters"`

	// InvocationCounter emits an invocations count.
	// Defaults to true.
	InvocationCounter *bool `yaml:"invocation_counter"`

	// Prefix is prepended to every built-in metric name.
	// Defaults to "worker.".
	Prefix *string `yaml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferSize:     defaultMaxBufferSize,
		MaxBufferDuration: defaultMaxBufferDuration,
		DispatchTimeout:   defaultDispatchTimeout,
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = defaultMaxBufferSize
	}

	if c.MaxBufferDuration == 0 {
		c.MaxBufferDuration = defaultMaxBufferDuration
	}

	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxBufferSize < 1 {
		return errors.New("flush.max_buffer_size must be at least 1")
	}

	if c.MaxBufferDuration < time.Millisecond {
		return errors.New(
			"flush.max_buffer_duration must be at least 1ms (seconds, e.g. 5, or a duration such as 500ms)",
		)
	}

	if c.DispatchTimeout < 0 {
		return errors.New("flush.dispatch_timeout must not be negative")
	}

	return nil
}

// UnmarshalYAML decodes the section, reading the duration fields as either
// seconds or Go duration strings. Keys absent from the document keep their
// current values.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		MaxBufferSize     int                  `yaml:"max_buffer_size"`
		MaxBufferDuration yaml.Node            `yaml:"max_buffer_duration"`
		DispatchTimeout   yaml.Node            `yaml:"dispatch_timeout"`
		DefaultMetrics    DefaultMetricsConfig `yaml:"default_metrics"`
	}{
		MaxBufferSize:  c.MaxBufferSize,
		DefaultMetrics: c.DefaultMetrics,
	}

	if err := node.Decode(&raw); err != nil {
		return err
	}

	maxBufferDuration, err := decodeSeconds(&raw.MaxBufferDuration, c.MaxBufferDuration)
	if err != nil {
		return fmt.Errorf("flush.max_buffer_duration: %w", err)
	}

	dispatchTimeout, err := decodeSeconds(&raw.DispatchTimeout, c.DispatchTimeout)
	if err != nil {
		return fmt.Errorf("flush.dispatch_timeout: %w", err)
	}

	c.MaxBufferSize = raw.MaxBufferSize
	c.MaxBufferDuration = maxBufferDuration
	c.DispatchTimeout = dispatchTimeout
	c.DefaultMetrics = raw.DefaultMetrics

	return nil
}

// decodeSeconds reads an int or float as seconds and anything else as a
// duration string. An absent or null node returns fallback.
func decodeSeconds(node *yaml.Node, fallback time.Duration) (time.Duration, error) {
	if node.Kind == 0 || node.ShortTag() == "!!null" {
		return fallback, nil
	}

	if node.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("line %d: expected seconds or a duration", node.Line)
	}

	switch node.ShortTag() {
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", node.Line, err)
		}

		return time.Duration(secs * float64(time.Second)), nil
	default:
		d, err := time.ParseDuration(node.Value)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", node.Line, err)
		}

		return d, nil
	}
}

// FlushDelay returns the buffer duration clamped to MaxFlushDelay.
func (c *Config) FlushDelay() time.Duration {
	if c.MaxBufferDuration > MaxFlushDelay {
		return MaxFlushDelay
	}

	return c.MaxBufferDuration
}

// DurationCountersEnabled returns whether duration histograms are emitted.
func (c *DefaultMetricsConfig) DurationCountersEnabled() bool {
	if c.DurationCounters == nil {
		return true
	}

	return *c.DurationCounters
}

// InvocationCounterEnabled returns whether the invocation count is emitted.
func (c *DefaultMetricsConfig) InvocationCounterEnabled() bool {
	if c.InvocationCounter == nil {
		return true
	}

	return *c.InvocationCounter
}

// MetricPrefix returns the prefix for built-in metric names.
func (c *DefaultMetricsConfig) MetricPrefix() string {
	if c.Prefix == nil {
		return defaultMetricPrefix
	}

	return *c.Prefix
}
