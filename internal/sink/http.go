package sink

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	httpexport "github.com/ethpandaops/metricoor/internal/export/http"
)

// dateTimeLayout matches the ClickHouse DateTime64(3) text format so the
// rows can be ingested by Vector into the same table as the ClickHouse sink.
const dateTimeLayout = "2006-01-02 15:04:05.000"

// MetricRow is the NDJSON schema for HTTP export of flushed metrics.
type MetricRow struct {
	UpdatedDateTime string             `json:"updated_date_time"`
	BatchID         string             `json:"batch_id,omitempty"`
	MetricType      string             `json:"metric_type"`
	Name            string             `json:"name"`
	Tags            map[string]string  `json:"tags"`
	FirstSeen       string             `json:"first_seen"`
	LastSeen        string             `json:"last_seen"`
	SampleCount     uint64             `json:"sample_count"`
	Value           float64            `json:"value"`
	Stats           map[string]float64 `json:"stats,omitempty"`
}

// HTTPSink posts flushed metrics as NDJSON rows. With the queue enabled
// rows are batched by a processor shipping synchronously, so SendMetrics
// still returns once the rows are delivered or failed.
type HTTPSink struct {
	log      logrus.FieldLogger
	cfg      httpexport.Config
	exporter *httpexport.Exporter[MetricRow]
	proc     *processor.BatchItemProcessor[MetricRow]
	now      func() time.Time
}

var (
	_ Sink      = (*HTTPSink)(nil)
	_ Lifecycle = (*HTTPSink)(nil)
)

// NewHTTPSink creates an HTTP sink.
func NewHTTPSink(log logrus.FieldLogger, cfg httpexport.Config) (*HTTPSink, error) {
	cfg.ApplyDefaults()

	log = log.WithField("sink", "http")

	s := &HTTPSink{
		log: log,
		cfg: cfg,
		now: time.Now,
	}

	if cfg.Queue.Enabled {
		proc, err := httpexport.NewProcessor[MetricRow](
			log, cfg, "metricoor_http",
			processor.WithShippingMethod(processor.ShippingMethodSync),
		)
		if err != nil {
			return nil, err
		}

		s.proc = proc

		return s, nil
	}

	exporter, err := httpexport.NewExporter[MetricRow](log, cfg)
	if err != nil {
		return nil, err
	}

	s.exporter = exporter

	return s, nil
}

// Name returns the sink identifier.
func (s *HTTPSink) Name() string {
	return "http"
}

// Start starts the batch processor when queued.
func (s *HTTPSink) Start(ctx context.Context) error {
	if s.proc != nil {
		s.proc.Start(ctx)
	}

	return nil
}

// Stop drains the batch processor or releases the exporter.
func (s *HTTPSink) Stop() error {
	if s.proc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Queue.ExportTimeout)
		defer cancel()

		if err := s.proc.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down http processor: %w", err)
		}

		return nil
	}

	return s.exporter.Shutdown(context.Background())
}

// SendMetrics converts payloads to rows and delivers them.
func (s *HTTPSink) SendMetrics(ctx context.Context, payloads []aggregate.Payload) error {
	rows := toMetricRows(payloads, export.BatchID(ctx), s.now())
	if len(rows) == 0 {
		return nil
	}

	if s.proc != nil {
		if err := s.proc.Write(ctx, rows); err != nil {
			return fmt.Errorf("exporting queued rows: %w", err)
		}

		return nil
	}

	return s.exporter.ExportItems(ctx, rows)
}

func toMetricRows(payloads []aggregate.Payload, batchID string, now time.Time) []*MetricRow {
	updated := now.UTC().Format(dateTimeLayout)
	rows := make([]*MetricRow, 0, len(payloads))

	for _, p := range payloads {
		rows = append(rows, &MetricRow{
			UpdatedDateTime: updated,
			BatchID:         batchID,
			MetricType:      string(p.Type),
			Name:            p.Name,
			Tags:            stringTags(p),
			FirstSeen:       millisTime(p.FirstSeen, now).Format(dateTimeLayout),
			LastSeen:        millisTime(p.LastSeen, now).Format(dateTimeLayout),
			SampleCount:     p.SampleCount,
			Value:           p.Value,
			Stats:           statsMap(p.Stats),
		})
	}

	return rows
}

// stringTags flattens tags to strings. Null values become empty strings.
func stringTags(p aggregate.Payload) map[string]string {
	out := make(map[string]string, len(p.Tags))

	for k, v := range p.Tags {
		if v == nil {
			out[k] = ""

			continue
		}

		out[k] = formatTagValue(v)
	}

	return out
}

func statsMap(stats []aggregate.Stat) map[string]float64 {
	if len(stats) == 0 {
		return nil
	}

	out := make(map[string]float64, len(stats))
	for _, st := range stats {
		out[st.Name] = st.Value
	}

	return out
}

// millisTime converts a unix millisecond timestamp, using now when unset.
func millisTime(ms int64, now time.Time) time.Time {
	if ms <= 0 {
		return now.UTC()
	}

	return time.UnixMilli(ms).UTC()
}
