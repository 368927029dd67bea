package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/flush"
	"github.com/ethpandaops/metricoor/internal/metric"
	"github.com/ethpandaops/metricoor/internal/trace"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

type collectingDispatcher struct {
	mu      sync.Mutex
	batches [][]aggregate.Payload
}

func (d *collectingDispatcher) Dispatch(_ context.Context, payloads []aggregate.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.batches = append(d.batches, payloads)

	return nil
}

func (d *collectingDispatcher) snapshot() [][]aggregate.Payload {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([][]aggregate.Payload(nil), d.batches...)
}

func (d *collectingDispatcher) total() int {
	n := 0
	for _, b := range d.snapshot() {
		n += len(b)
	}

	return n
}

func noDefaults() flush.DefaultMetricsConfig {
	off := false

	return flush.DefaultMetricsConfig{DurationCounters: &off, InvocationCounter: &off}
}

func newTestPipeline(t *testing.T, cfg flush.Config) (*Pipeline, *collectingDispatcher) {
	t.Helper()

	d := &collectingDispatcher{}
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	x := trace.NewExtractor(testLog(), trace.Config{DefaultMetrics: noDefaults()}, health)

	p := New(testLog(), cfg, x, d, health)
	require.NoError(t, p.Start(context.Background()))

	return p, d
}

func countEvent(name string) metric.Event {
	return metric.Event{Type: metric.TypeCount, Name: name, Value: 1}
}

func TestPipeline_TimedFlush(t *testing.T) {
	p, d := newTestPipeline(t, flush.Config{
		MaxBufferSize:     100,
		MaxBufferDuration: 30 * time.Millisecond,
	})
	defer p.Stop()

	in, err := p.SubmitEvents(context.Background(), []metric.Event{
		countEvent("a"), countEvent("a"), countEvent("b"),
	})
	require.NoError(t, err)
	assert.Equal(t, Ingested{Accepted: 3}, in)

	require.Eventually(t, func() bool {
		return len(d.snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	batch := d.snapshot()[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Name)
	assert.InDelta(t, 2.0, batch[0].Value, 1e-9)
}

func TestPipeline_SizeFlush(t *testing.T) {
	p, d := newTestPipeline(t, flush.Config{
		MaxBufferSize:     2,
		MaxBufferDuration: 10 * time.Second,
	})
	defer p.Stop()

	_, err := p.SubmitEvents(context.Background(), []metric.Event{countEvent("a"), countEvent("b")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.total() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPipeline_StopFlushesBuffer(t *testing.T) {
	p, d := newTestPipeline(t, flush.Config{
		MaxBufferSize:     100,
		MaxBufferDuration: 10 * time.Second,
	})

	_, err := p.SubmitEvents(context.Background(), []metric.Event{countEvent("a")})
	require.NoError(t, err)
	assert.Empty(t, d.snapshot())

	require.NoError(t, p.Stop())

	// Stop waits for the shutdown dispatch.
	require.Len(t, d.snapshot(), 1)

	_, err = p.SubmitEvents(context.Background(), []metric.Event{countEvent("late")})
	assert.ErrorIs(t, err, ErrNotAccepting)

	assert.NoError(t, p.Stop())
}

func TestPipeline_NotStarted(t *testing.T) {
	x := trace.NewExtractor(testLog(), trace.Config{}, nil)
	p := New(testLog(), flush.DefaultConfig(), x, &collectingDispatcher{}, nil)

	_, err := p.SubmitEvents(context.Background(), []metric.Event{countEvent("a")})
	assert.ErrorIs(t, err, ErrNotAccepting)

	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Start(context.Background()))

	_, err = p.SubmitEvents(context.Background(), []metric.Event{countEvent("a")})
	assert.ErrorIs(t, err, ErrNotAccepting)
}

func TestPipeline_InvalidEventsDropped(t *testing.T) {
	p, _ := newTestPipeline(t, flush.DefaultConfig())
	defer p.Stop()

	in, err := p.SubmitEvents(context.Background(), []metric.Event{
		countEvent("ok"),
		{Type: metric.TypeCount, Value: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, Ingested{Accepted: 1, Dropped: 1}, in)

	assert.InDelta(t, 1.0, testutil.ToFloat64(p.health.EventsReceived), 1e-9)
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(p.health.EventsDropped.WithLabelValues("invalid")), 1e-9)
}

func TestPipeline_RejectedEventsAreNotReceived(t *testing.T) {
	p, _ := newTestPipeline(t, flush.DefaultConfig())
	require.NoError(t, p.Stop())

	_, err := p.SubmitEvents(context.Background(), []metric.Event{countEvent("late")})
	require.ErrorIs(t, err, ErrNotAccepting)

	assert.InDelta(t, 0.0, testutil.ToFloat64(p.health.EventsReceived), 1e-9)
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(p.health.EventsDropped.WithLabelValues("rejected")), 1e-9)
}

func TestPipeline_Submit(t *testing.T) {
	p, d := newTestPipeline(t, flush.Config{
		MaxBufferSize:     100,
		MaxBufferDuration: 10 * time.Second,
	})

	records := []trace.Record{{
		ScriptName: "api",
		DiagnosticsChannelEvents: []trace.Diagnostic{
			{Channel: "metrics", Message: json.RawMessage(`{"type":"gauge","name":"depth","value":4}`)},
			{Channel: "metrics", Message: json.RawMessage(`{"type":"bogus","name":"x","value":1}`)},
		},
	}}

	in, err := p.Submit(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, Ingested{Accepted: 1, Dropped: 1}, in)

	require.NoError(t, p.Stop())
	require.Len(t, d.snapshot(), 1)
	assert.Equal(t, "depth", d.snapshot()[0][0].Name)
}

func TestPipeline_ConcurrentSubmitters(t *testing.T) {
	p, d := newTestPipeline(t, flush.Config{
		MaxBufferSize:     7,
		MaxBufferDuration: 20 * time.Millisecond,
	})

	const (
		workers = 8
		perWork = 50
	)

	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range perWork {
				_, err := p.SubmitEvents(context.Background(), []metric.Event{
					countEvent(fmt.Sprintf("w%d-%d", w, i)),
				})
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()
	require.NoError(t, p.Stop())

	// Every distinct key is flushed exactly once.
	seen := make(map[string]int, workers*perWork)
	for _, b := range d.snapshot() {
		for _, payload := range b {
			seen[payload.Name]++
		}
	}

	assert.Len(t, seen, workers*perWork)

	for name, n := range seen {
		assert.Equal(t, 1, n, name)
	}
}
