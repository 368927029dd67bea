package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/metric"
)

func TestClickHouseRows(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := clickHouseRows([]aggregate.Payload{
		{
			Type: metric.TypeHistogram, Name: "worker.wall_time", SampleCount: 3, Value: 12,
			FirstSeen: 1709294400000, LastSeen: 1709294401000,
			Tags:  metric.Tags{"script_name": "api", "cold": true},
			Stats: []aggregate.Stat{{Name: "avg", Value: 4}},
		},
		{Type: metric.TypeGauge, Name: "queue.depth", Value: 1, SampleCount: 1},
	}, "b-9", "edge-1", now)

	require.Len(t, rows, 2)
	require.Len(t, rows[0], 11)

	assert.Equal(t, now, rows[0][0])
	assert.Equal(t, "b-9", rows[0][1])
	assert.Equal(t, "histogram", rows[0][2])
	assert.Equal(t, "worker.wall_time", rows[0][3])
	assert.Equal(t, map[string]string{"script_name": "api", "cold": "true"}, rows[0][4])
	assert.Equal(t, time.UnixMilli(1709294400000).UTC(), rows[0][5])
	assert.Equal(t, time.UnixMilli(1709294401000).UTC(), rows[0][6])
	assert.Equal(t, uint64(3), rows[0][7])
	assert.InDelta(t, 12.0, rows[0][8], 1e-9)
	assert.Equal(t, map[string]float64{"avg": 4}, rows[0][9])
	assert.Equal(t, "edge-1", rows[0][10])

	// Unset timestamps and stats still produce insertable values.
	assert.Equal(t, now, rows[1][5])
	assert.Equal(t, map[string]float64{}, rows[1][9])
}

func TestInsertQuery(t *testing.T) {
	cfg := export.ClickHouseConfig{}
	cfg.ApplyDefaults()

	assert.Contains(t, insertQuery(cfg), "INSERT INTO default.metrics (")
}

func TestClickHouseSink_NotStarted(t *testing.T) {
	cfg := export.ClickHouseConfig{Enabled: true, Endpoint: "localhost:9000"}
	cfg.ApplyDefaults()

	s := NewClickHouseSink(testLog(), export.NewClickHouseWriter(testLog(), cfg, nil))

	err := s.SendMetrics(context.Background(), testPayloads())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting into default.metrics")

	assert.NoError(t, s.Stop())
}
