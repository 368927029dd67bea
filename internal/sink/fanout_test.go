package sink

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/metric"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

type recordingSink struct {
	name  string
	err   error
	panic any
	delay time.Duration

	calls    atomic.Int32
	mu       sync.Mutex
	received [][]aggregate.Payload
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) SendMetrics(_ context.Context, payloads []aggregate.Payload) error {
	s.calls.Add(1)

	s.mu.Lock()
	s.received = append(s.received, payloads)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if s.panic != nil {
		panic(s.panic)
	}

	return s.err
}

func testPayloads() []aggregate.Payload {
	return []aggregate.Payload{
		{Type: metric.TypeCount, Name: "requests", Value: 3, SampleCount: 3},
	}
}

func TestFanout_PartialFailure(t *testing.T) {
	ok1 := &recordingSink{name: "ok1"}
	failing := &recordingSink{name: "datadog", err: errors.New("status 503")}
	ok2 := &recordingSink{name: "ok2"}

	f := NewFanout(testLog(), []Sink{ok1, failing, ok2}, nil)

	err := f.Dispatch(context.Background(), testPayloads())
	require.Error(t, err)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)

	assert.Equal(t, 3, dispatchErr.Total)
	assert.Equal(t, 2, dispatchErr.Succeeded())
	require.Len(t, dispatchErr.Failures, 1)
	assert.Equal(t, "datadog", dispatchErr.Failures[0].Sink)
	assert.Equal(t, "1 of 3 sinks failed: datadog: status 503", err.Error())
	assert.ErrorIs(t, err, failing.err)

	for _, s := range []*recordingSink{ok1, failing, ok2} {
		assert.Equal(t, int32(1), s.calls.Load(), s.name)
	}
}

func TestFanout_PanicIsIsolated(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", panic: "nil map write"}

	f := NewFanout(testLog(), []Sink{bad, ok}, nil)

	err := f.Dispatch(context.Background(), testPayloads())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkPanic)
	assert.Contains(t, err.Error(), "bad: sink panicked: nil map write")
	assert.Equal(t, int32(1), ok.calls.Load())
}

func TestFanout_AllSucceed(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}

	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	f := NewFanout(testLog(), []Sink{a, b}, health)

	payloads := testPayloads()
	require.NoError(t, f.Dispatch(context.Background(), payloads))

	assert.Equal(t, payloads, a.received[0])
	assert.Equal(t, payloads, b.received[0])
}

func TestFanout_RunsConcurrently(t *testing.T) {
	sinks := make([]Sink, 0, 4)
	for _, name := range []string{"a", "b", "c", "d"} {
		sinks = append(sinks, &recordingSink{name: name, delay: 100 * time.Millisecond})
	}

	f := NewFanout(testLog(), sinks, nil)

	started := time.Now()
	require.NoError(t, f.Dispatch(context.Background(), testPayloads()))

	assert.Less(t, time.Since(started), 350*time.Millisecond)
}

func TestFanout_MultipleFailuresKeepConfiguredOrder(t *testing.T) {
	first := &recordingSink{name: "first", err: errors.New("boom"), delay: 50 * time.Millisecond}
	second := &recordingSink{name: "second", err: errors.New("bang")}

	f := NewFanout(testLog(), []Sink{first, second}, nil)

	err := f.Dispatch(context.Background(), testPayloads())
	require.Error(t, err)
	assert.Equal(t, "2 of 2 sinks failed: first: boom; second: bang", err.Error())
}
