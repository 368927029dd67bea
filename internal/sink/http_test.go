package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	httpexport "github.com/ethpandaops/metricoor/internal/export/http"
	"github.com/ethpandaops/metricoor/internal/metric"
)

func ndjsonServer(t *testing.T) (*httptest.Server, func() []MetricRow) {
	t.Helper()

	var (
		mu   sync.Mutex
		rows []MetricRow
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		body, err := httpexport.Decompress(r.Header.Get("Content-Encoding"), bytes.NewReader(raw), 0)
		require.NoError(t, err)

		scanner := bufio.NewScanner(bytes.NewReader(body))
		for scanner.Scan() {
			var row MetricRow
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))

			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
		}

		w.WriteHeader(http.StatusOK)
	}))

	t.Cleanup(server.Close)

	return server, func() []MetricRow {
		mu.Lock()
		defer mu.Unlock()

		return append([]MetricRow(nil), rows...)
	}
}

func TestHTTPSink_Sync(t *testing.T) {
	server, rows := ndjsonServer(t)

	s, err := NewHTTPSink(testLog(), httpexport.Config{Enabled: true, Address: server.URL})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	defer s.Stop()

	ctx := export.WithBatchID(context.Background(), "batch-7")

	require.NoError(t, s.SendMetrics(ctx, []aggregate.Payload{
		{
			Type: metric.TypeHistogram, Name: "worker.cpu_time", SampleCount: 2, Value: 7,
			FirstSeen: 1700000000000, LastSeen: 1700000000500,
			Tags:  metric.Tags{"script_name": "api", "region": nil},
			Stats: []aggregate.Stat{{Name: "max", Value: 5}, {Name: "p50", Value: 2}},
		},
		{Type: metric.TypeCount, Name: "worker.invocations", Value: 2, SampleCount: 2},
	}))

	got := rows()
	require.Len(t, got, 2)

	assert.Equal(t, "batch-7", got[0].BatchID)
	assert.Equal(t, "histogram", got[0].MetricType)
	assert.Equal(t, "2023-11-14 22:13:20.000", got[0].FirstSeen)
	assert.Equal(t, "2023-11-14 22:13:20.500", got[0].LastSeen)
	assert.Equal(t, map[string]string{"script_name": "api", "region": ""}, got[0].Tags)
	assert.Equal(t, map[string]float64{"max": 5, "p50": 2}, got[0].Stats)

	assert.Equal(t, "count", got[1].MetricType)
	assert.Nil(t, got[1].Stats)
}

func TestHTTPSink_SyncError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s, err := NewHTTPSink(testLog(), httpexport.Config{Enabled: true, Address: server.URL})
	require.NoError(t, err)

	err = s.SendMetrics(context.Background(), testPayloads())

	var statusErr *httpexport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestHTTPSink_Queued(t *testing.T) {
	server, rows := ndjsonServer(t)

	s, err := NewHTTPSink(testLog(), httpexport.Config{
		Enabled: true,
		Address: server.URL,
		Queue: httpexport.QueueConfig{
			Enabled:      true,
			BatchTimeout: 50 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	// Delivered before SendMetrics returns, so an immediate Stop loses nothing.
	require.NoError(t, s.SendMetrics(context.Background(), testPayloads()))
	require.NoError(t, s.Stop())

	assert.Len(t, rows(), 1)
}

func TestHTTPSink_QueuedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s, err := NewHTTPSink(testLog(), httpexport.Config{
		Enabled: true,
		Address: server.URL,
		Queue: httpexport.QueueConfig{
			Enabled:      true,
			BatchTimeout: 20 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	defer func() { _ = s.Stop() }()

	err = s.SendMetrics(context.Background(), testPayloads())

	var statusErr *httpexport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestHTTPSink_EmptyBatch(t *testing.T) {
	s, err := NewHTTPSink(testLog(), httpexport.Config{Enabled: true, Address: "http://127.0.0.1:1"})
	require.NoError(t, err)

	assert.NoError(t, s.SendMetrics(context.Background(), nil))
}
