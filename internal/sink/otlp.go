package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/metric"
	"github.com/ethpandaops/metricoor/internal/version"
)

const otlpScopeName = "github.com/ethpandaops/metricoor"

// OTLPSink exports batches to an OTLP collector.
type OTLPSink struct {
	log      logrus.FieldLogger
	exporter *export.OTLPExporter
	now      func() time.Time
}

var (
	_ Sink      = (*OTLPSink)(nil)
	_ Lifecycle = (*OTLPSink)(nil)
)

// NewOTLPSink creates an OTLP sink over exporter.
func NewOTLPSink(log logrus.FieldLogger, exporter *export.OTLPExporter) *OTLPSink {
	return &OTLPSink{
		log:      log.WithField("sink", "otlp"),
		exporter: exporter,
		now:      time.Now,
	}
}

// Name returns the sink identifier.
func (s *OTLPSink) Name() string {
	return "otlp"
}

// Start connects the exporter.
func (s *OTLPSink) Start(ctx context.Context) error {
	return s.exporter.Start(ctx)
}

// Stop shuts the exporter down.
func (s *OTLPSink) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.exporter.Stop(ctx)
}

// SendMetrics converts payloads and exports them in one request.
func (s *OTLPSink) SendMetrics(ctx context.Context, payloads []aggregate.Payload) error {
	scope := metricdata.ScopeMetrics{
		Scope: instrumentation.Scope{
			Name:    otlpScopeName,
			Version: version.Release,
		},
		Metrics: toOTLPMetrics(payloads, s.now()),
	}

	if err := s.exporter.Export(ctx, []metricdata.ScopeMetrics{scope}); err != nil {
		return err
	}

	s.log.WithField("metrics", len(scope.Metrics)).Debug("Exported OTLP metrics")

	return nil
}

// toOTLPMetrics groups payloads into one instrument per name. Counts are
// delta sums, gauges are gauges, and histogram stats become gauges named
// "<metric>.<stat>" next to a "<metric>.count" delta sum.
func toOTLPMetrics(payloads []aggregate.Payload, now time.Time) []metricdata.Metrics {
	var (
		order  []string
		sums   = make(map[string][]metricdata.DataPoint[float64], len(payloads))
		gauges = make(map[string][]metricdata.DataPoint[float64], len(payloads))
	)

	add := func(target map[string][]metricdata.DataPoint[float64], name string, dp metricdata.DataPoint[float64]) {
		if _, seen := sums[name]; !seen {
			if _, seen := gauges[name]; !seen {
				order = append(order, name)
			}
		}

		target[name] = append(target[name], dp)
	}

	for _, p := range payloads {
		start, end := otlpTimes(p, now)
		attrs := otlpAttributes(p.Tags)

		point := func(v float64) metricdata.DataPoint[float64] {
			return metricdata.DataPoint[float64]{
				Attributes: attrs,
				StartTime:  start,
				Time:       end,
				Value:      v,
			}
		}

		switch p.Type {
		case metric.TypeCount:
			add(sums, p.Name, point(p.Value))
		case metric.TypeGauge:
			add(gauges, p.Name, point(p.Value))
		case metric.TypeHistogram:
			for _, st := range p.Stats {
				add(gauges, p.StatName(st), point(st.Value))
			}

			add(sums, p.Name+".count", point(float64(p.SampleCount)))
		}
	}

	out := make([]metricdata.Metrics, 0, len(order))

	for _, name := range order {
		if dps, ok := sums[name]; ok {
			out = append(out, metricdata.Metrics{
				Name: name,
				Data: metricdata.Sum[float64]{
					DataPoints:  dps,
					Temporality: metricdata.DeltaTemporality,
					IsMonotonic: false,
				},
			})
		}

		if dps, ok := gauges[name]; ok {
			out = append(out, metricdata.Metrics{
				Name: name,
				Data: metricdata.Gauge[float64]{DataPoints: dps},
			})
		}
	}

	return out
}

// otlpTimes maps the millisecond first/last seen bounds to data point
// times, falling back to now when no timestamp was recorded.
func otlpTimes(p aggregate.Payload, now time.Time) (time.Time, time.Time) {
	end := now
	if p.LastSeen > 0 {
		end = time.UnixMilli(p.LastSeen)
	}

	start := end
	if p.FirstSeen > 0 && p.FirstSeen <= p.LastSeen {
		start = time.UnixMilli(p.FirstSeen)
	}

	return start, end
}

func otlpAttributes(tags metric.Tags) attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(tags))

	for k, v := range tags {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			kvs = append(kvs, attribute.String(k, t))
		case bool:
			kvs = append(kvs, attribute.Bool(k, t))
		case float64:
			kvs = append(kvs, attribute.Float64(k, t))
		default:
			kvs = append(kvs, attribute.String(k, formatTagValue(t)))
		}
	}

	return attribute.NewSet(kvs...)
}
