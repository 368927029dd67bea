package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
)

// ClickHouseSink inserts each flushed batch as rows of the metrics table.
type ClickHouseSink struct {
	log    logrus.FieldLogger
	writer *export.ClickHouseWriter
	now    func() time.Time
}

var (
	_ Sink      = (*ClickHouseSink)(nil)
	_ Lifecycle = (*ClickHouseSink)(nil)
)

// NewClickHouseSink creates a ClickHouse sink over writer.
func NewClickHouseSink(log logrus.FieldLogger, writer *export.ClickHouseWriter) *ClickHouseSink {
	return &ClickHouseSink{
		log:    log.WithField("sink", "clickhouse"),
		writer: writer,
		now:    time.Now,
	}
}

// Name returns the sink identifier.
func (s *ClickHouseSink) Name() string {
	return "clickhouse"
}

// Start connects the writer.
func (s *ClickHouseSink) Start(ctx context.Context) error {
	return s.writer.Start(ctx)
}

// Stop closes the writer.
func (s *ClickHouseSink) Stop() error {
	return s.writer.Stop()
}

// SendMetrics inserts payloads in one batch.
func (s *ClickHouseSink) SendMetrics(ctx context.Context, payloads []aggregate.Payload) error {
	if len(payloads) == 0 {
		return nil
	}

	cfg := s.writer.Config()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	rows := clickHouseRows(payloads, export.BatchID(ctx), cfg.MetaClientName, s.now())

	if err := s.writer.Insert(ctx, insertQuery(cfg), rows); err != nil {
		return fmt.Errorf("inserting into %s.%s: %w", cfg.Database, cfg.Table, err)
	}

	s.log.WithField("rows", len(rows)).Debug("Inserted metrics")

	return nil
}

func insertQuery(cfg export.ClickHouseConfig) string {
	return fmt.Sprintf(`INSERT INTO %s.%s (
		updated_date_time, batch_id, metric_type, name, tags,
		first_seen, last_seen, sample_count, value, stats,
		meta_client_name
	)`, cfg.Database, cfg.Table)
}

// clickHouseRows builds rows in insertQuery column order.
func clickHouseRows(
	payloads []aggregate.Payload,
	batchID string,
	clientName string,
	now time.Time,
) [][]any {
	updated := now.UTC()
	rows := make([][]any, 0, len(payloads))

	for _, p := range payloads {
		stats := statsMap(p.Stats)
		if stats == nil {
			stats = map[string]float64{}
		}

		rows = append(rows, []any{
			updated,
			batchID,
			string(p.Type),
			p.Name,
			stringTags(p),
			millisTime(p.FirstSeen, now),
			millisTime(p.LastSeen, now),
			p.SampleCount,
			p.Value,
			stats,
			clientName,
		})
	}

	return rows
}
