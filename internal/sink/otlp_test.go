package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/metric"
)

type fakeMetricsClient struct {
	mu       sync.Mutex
	err      error
	exported []*metricdata.ResourceMetrics
	shutdown bool
}

func (c *fakeMetricsClient) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.exported = append(c.exported, rm)

	return c.err
}

func (c *fakeMetricsClient) Shutdown(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shutdown = true

	return nil
}

func newTestOTLPSink(t *testing.T, client *fakeMetricsClient) *OTLPSink {
	t.Helper()

	exporter := export.NewOTLPExporter(testLog(), export.OTLPConfig{
		Enabled:  true,
		Endpoint: "collector:4317",
	}, export.WithMetricsClient(client))

	s := NewOTLPSink(testLog(), exporter)
	require.NoError(t, s.Start(context.Background()))

	return s
}

func TestOTLPSink_SendMetrics(t *testing.T) {
	client := &fakeMetricsClient{}
	s := newTestOTLPSink(t, client)

	require.NoError(t, s.SendMetrics(context.Background(), []aggregate.Payload{
		{
			Type: metric.TypeCount, Name: "worker.invocations", Value: 2, SampleCount: 2,
			FirstSeen: 1000, LastSeen: 2000, Tags: metric.Tags{"outcome": "ok"},
		},
		{
			Type: metric.TypeCount, Name: "worker.invocations", Value: 1, SampleCount: 1,
			FirstSeen: 1500, LastSeen: 1500, Tags: metric.Tags{"outcome": "exception"},
		},
		{Type: metric.TypeGauge, Name: "queue.depth", Value: 7, SampleCount: 3, LastSeen: 3000},
	}))

	require.Len(t, client.exported, 1)

	rm := client.exported[0]
	name, ok := rm.Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "metricoor", name.AsString())

	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, otlpScopeName, rm.ScopeMetrics[0].Scope.Name)

	metrics := rm.ScopeMetrics[0].Metrics
	require.Len(t, metrics, 2)

	assert.Equal(t, "worker.invocations", metrics[0].Name)
	sum, ok := metrics[0].Data.(metricdata.Sum[float64])
	require.True(t, ok)
	assert.Equal(t, metricdata.DeltaTemporality, sum.Temporality)
	require.Len(t, sum.DataPoints, 2)
	assert.InDelta(t, 2.0, sum.DataPoints[0].Value, 1e-9)
	assert.Equal(t, time.UnixMilli(1000), sum.DataPoints[0].StartTime)
	assert.Equal(t, time.UnixMilli(2000), sum.DataPoints[0].Time)

	outcome, ok := sum.DataPoints[1].Attributes.Value("outcome")
	require.True(t, ok)
	assert.Equal(t, "exception", outcome.AsString())

	assert.Equal(t, "queue.depth", metrics[1].Name)
	gauge, ok := metrics[1].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.InDelta(t, 7.0, gauge.DataPoints[0].Value, 1e-9)

	require.NoError(t, s.Stop())
	assert.True(t, client.shutdown)
}

func TestOTLPSink_ExportError(t *testing.T) {
	client := &fakeMetricsClient{err: errors.New("unavailable")}
	s := newTestOTLPSink(t, client)

	err := s.SendMetrics(context.Background(), testPayloads())
	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)
}

func TestOTLPSink_NotStarted(t *testing.T) {
	exporter := export.NewOTLPExporter(testLog(), export.OTLPConfig{Endpoint: "collector:4317"})
	s := NewOTLPSink(testLog(), exporter)

	assert.ErrorIs(t, s.SendMetrics(context.Background(), testPayloads()), export.ErrOTLPNotStarted)
}

func TestOTLPMetrics_Histogram(t *testing.T) {
	now := time.UnixMilli(5000)

	metrics := toOTLPMetrics([]aggregate.Payload{{
		Type: metric.TypeHistogram, Name: "worker.wall_time", SampleCount: 5,
		Stats: []aggregate.Stat{{Name: "max", Value: 5}, {Name: "p99", Value: 5}},
	}}, now)

	require.Len(t, metrics, 3)
	assert.Equal(t, "worker.wall_time.max", metrics[0].Name)
	assert.Equal(t, "worker.wall_time.p99", metrics[1].Name)
	assert.Equal(t, "worker.wall_time.count", metrics[2].Name)

	count, ok := metrics[2].Data.(metricdata.Sum[float64])
	require.True(t, ok)
	assert.InDelta(t, 5.0, count.DataPoints[0].Value, 1e-9)
	assert.Equal(t, now, count.DataPoints[0].Time)
}

func TestOTLPAttributes(t *testing.T) {
	set := otlpAttributes(metric.Tags{
		"script": "api",
		"cold":   true,
		"shard":  3.0,
		"none":   nil,
	})

	assert.Equal(t, 3, set.Len())

	v, ok := set.Value("cold")
	require.True(t, ok)
	assert.Equal(t, attribute.BOOL, v.Type())

	_, ok = set.Value("none")
	assert.False(t, ok)
}

func TestOTLPConfig_Validate(t *testing.T) {
	cfg := export.OTLPConfig{Enabled: true}
	cfg.ApplyDefaults()
	assert.Error(t, cfg.Validate())

	cfg.Endpoint = "collector:4317"
	assert.NoError(t, cfg.Validate())

	cfg.Compression = "zstd"
	assert.Error(t, cfg.Validate())
}
