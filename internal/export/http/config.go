package http

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config configures an HTTP delivery endpoint.
type Config struct {
	// Enabled enables delivery to this endpoint.
	Enabled bool `yaml:"enabled"`

	// Address is the HTTP endpoint to send data to.
	Address string `yaml:"address"`

	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers"`

	// Compression specifies the compression algorithm.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to gzip.
	Compression string `yaml:"compression"`

	// Timeout bounds a single request.
	// Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`

	// Queue batches items through a processor before delivery.
	Queue QueueConfig `yaml:"queue"`
}

// QueueConfig configures background batching.
type QueueConfig struct {
	// Enabled turns on queued delivery.
	Enabled bool `yaml:"enabled"`

	// BatchSize is the maximum number of items per request.
	// Defaults to 512.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout is the maximum duration to wait before sending a batch.
	// Defaults to 5s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout is the maximum duration for an export operation.
	// Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize is the maximum number of items to queue.
	// Items are dropped if the queue is full.
	// Defaults to 51200.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of concurrent workers.
	// Defaults to 1.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression: CompressionGzip,
		Timeout:     10 * time.Second,
		KeepAlive:   &keepAlive,
		Queue: QueueConfig{
			BatchSize:     512,
			BatchTimeout:  5 * time.Second,
			ExportTimeout: 30 * time.Second,
			MaxQueueSize:  51200,
			Workers:       1,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("address is required when enabled")
	}

	u, err := url.Parse(c.Address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("address %q is not an absolute URL", c.Address)
	}

	if !ValidCompression(c.Compression) {
		return errors.New("invalid compression type: " + c.Compression)
	}

	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}

	if !c.Queue.Enabled {
		return nil
	}

	if c.Queue.BatchSize <= 0 {
		return errors.New("queue.batch_size must be greater than 0")
	}

	if c.Queue.MaxQueueSize <= 0 {
		return errors.New("queue.max_queue_size must be greater than 0")
	}

	if c.Queue.BatchSize > c.Queue.MaxQueueSize {
		return errors.New("queue.batch_size cannot be greater than queue.max_queue_size")
	}

	if c.Queue.Workers <= 0 {
		return errors.New("queue.workers must be greater than 0")
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}

	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = defaults.Queue.BatchSize
	}

	if c.Queue.BatchTimeout <= 0 {
		c.Queue.BatchTimeout = defaults.Queue.BatchTimeout
	}

	if c.Queue.ExportTimeout <= 0 {
		c.Queue.ExportTimeout = defaults.Queue.ExportTimeout
	}

	if c.Queue.MaxQueueSize == 0 {
		c.Queue.MaxQueueSize = defaults.Queue.MaxQueueSize
	}

	if c.Queue.Workers == 0 {
		c.Queue.Workers = defaults.Queue.Workers
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}
