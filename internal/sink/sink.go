package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	httpexport "github.com/ethpandaops/metricoor/internal/export/http"
)

// Sink delivers a flushed batch to one backend. A sink either attempts the
// whole batch or fails the whole batch. Implementations must be safe to
// call concurrently with other sinks.
type Sink interface {
	// Name returns the sink's name for logging and metrics.
	Name() string
	// SendMetrics delivers payloads.
	SendMetrics(ctx context.Context, payloads []aggregate.Payload) error
}

// Lifecycle is implemented by sinks that hold connections or workers.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// ErrNoSinks is returned when configuration enables no sink.
var ErrNoSinks = errors.New("at least one sink must be enabled")

// Config holds configuration for all sinks.
type Config struct {
	Log        LogConfig               `yaml:"log"`
	Datadog    DatadogConfig           `yaml:"datadog"`
	OTLP       export.OTLPConfig       `yaml:"otlp"`
	HTTP       httpexport.Config       `yaml:"http"`
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
}

// ApplyDefaults fills unset fields for every sink.
func (c *Config) ApplyDefaults() {
	c.Datadog.ApplyDefaults()
	c.OTLP.ApplyDefaults()
	c.HTTP.ApplyDefaults()
	c.ClickHouse.ApplyDefaults()
}

// Validate checks each enabled sink and that at least one is enabled.
func (c *Config) Validate() error {
	if !c.Log.Enabled && !c.Datadog.Enabled && !c.OTLP.Enabled &&
		!c.HTTP.Enabled && !c.ClickHouse.Enabled {
		return ErrNoSinks
	}

	if err := c.Datadog.Validate(); err != nil {
		return fmt.Errorf("sinks.datadog: %w", err)
	}

	if err := c.OTLP.Validate(); err != nil {
		return fmt.Errorf("sinks.otlp: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("sinks.http: %w", err)
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("sinks.clickhouse: %w", err)
	}

	return nil
}

// New builds every enabled sink. Sinks implementing Lifecycle still need
// to be started by the caller.
func New(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) ([]Sink, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sinks := make([]Sink, 0, 5)

	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(log, cfg.Log))
	}

	if cfg.Datadog.Enabled {
		dd, err := NewDatadogSink(log, cfg.Datadog)
		if err != nil {
			return nil, fmt.Errorf("creating datadog sink: %w", err)
		}

		sinks = append(sinks, dd)
	}

	if cfg.OTLP.Enabled {
		sinks = append(sinks, NewOTLPSink(log, export.NewOTLPExporter(log, cfg.OTLP)))
	}

	if cfg.HTTP.Enabled {
		h, err := NewHTTPSink(log, cfg.HTTP)
		if err != nil {
			return nil, fmt.Errorf("creating http sink: %w", err)
		}

		sinks = append(sinks, h)
	}

	if cfg.ClickHouse.Enabled {
		sinks = append(sinks, NewClickHouseSink(
			log,
			export.NewClickHouseWriter(log, cfg.ClickHouse, health),
		))
	}

	return sinks, nil
}
