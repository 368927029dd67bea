package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ethpandaops/metricoor/internal/version"
)

// ErrOTLPNotStarted is returned by Export before Start succeeds.
var ErrOTLPNotStarted = errors.New("otlp exporter not started")

// OTLPConfig configures the OTLP metric exporter.
type OTLPConfig struct {
	// Enabled enables the OTLP sink.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the gRPC OTLP endpoint (e.g. "otel-collector:4317").
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the gRPC connection.
	Insecure bool `yaml:"insecure"`

	// Headers are sent with every export, e.g. for collector auth.
	Headers map[string]string `yaml:"headers"`

	// Compression is "gzip" or "none". Defaults to gzip.
	Compression string `yaml:"compression"`

	// Timeout bounds one export. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service.name resource attribute.
	// Defaults to "metricoor".
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills unset fields.
func (c *OTLPConfig) ApplyDefaults() {
	if c.Compression == "" {
		c.Compression = "gzip"
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.ServiceName == "" {
		c.ServiceName = "metricoor"
	}
}

// Validate checks the configuration when enabled.
func (c *OTLPConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return errors.New("endpoint is required when enabled")
	}

	if c.Compression != "gzip" && c.Compression != "none" {
		return fmt.Errorf("unsupported compression %q (gzip, none)", c.Compression)
	}

	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}

	return nil
}

// MetricsClient is the subset of an OTLP metric exporter used here.
type MetricsClient interface {
	Export(ctx context.Context, rm *metricdata.ResourceMetrics) error
	Shutdown(ctx context.Context) error
}

// OTLPOption configures an OTLPExporter.
type OTLPOption func(*OTLPExporter)

// WithMetricsClient replaces the gRPC client created by Start.
func WithMetricsClient(c MetricsClient) OTLPOption {
	return func(e *OTLPExporter) {
		e.client = c
	}
}

// OTLPExporter owns the gRPC connection to an OTLP collector and the
// resource describing this agent.
type OTLPExporter struct {
	log      logrus.FieldLogger
	cfg      OTLPConfig
	resource *resource.Resource

	mu     sync.RWMutex
	client MetricsClient
}

// NewOTLPExporter creates a new OTLP metric exporter. Call Start before
// Export.
func NewOTLPExporter(
	log logrus.FieldLogger,
	cfg OTLPConfig,
	opts ...OTLPOption,
) *OTLPExporter {
	cfg.ApplyDefaults()

	e := &OTLPExporter{
		log: log.WithField("component", "otlp"),
		cfg: cfg,
		resource: resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version.Release),
		),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start dials the collector. The gRPC client connects lazily, so an
// unreachable collector surfaces on the first Export.
func (e *OTLPExporter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(e.cfg.Endpoint),
		otlpmetricgrpc.WithTimeout(e.cfg.Timeout),
	}

	if e.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	if len(e.cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(e.cfg.Headers))
	}

	if e.cfg.Compression == "gzip" {
		opts = append(opts, otlpmetricgrpc.WithCompressor("gzip"))
	}

	client, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating OTLP exporter: %w", err)
	}

	e.client = client

	e.log.WithField("endpoint", e.cfg.Endpoint).
		Info("OTLP exporter started")

	return nil
}

// Resource returns the resource attached to every export.
func (e *OTLPExporter) Resource() *resource.Resource {
	return e.resource
}

// Export sends scope metrics under this agent's resource.
func (e *OTLPExporter) Export(ctx context.Context, scopes []metricdata.ScopeMetrics) error {
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()

	if client == nil {
		return ErrOTLPNotStarted
	}

	rm := &metricdata.ResourceMetrics{
		Resource:     e.resource,
		ScopeMetrics: scopes,
	}

	if err := client.Export(ctx, rm); err != nil {
		return fmt.Errorf("exporting OTLP metrics: %w", err)
	}

	return nil
}

// Stop shuts down the OTLP exporter.
func (e *OTLPExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil
	}

	if err := e.client.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down OTLP exporter: %w", err)
	}

	e.client = nil

	return nil
}
