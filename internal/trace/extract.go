package trace

import (
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/flush"
	"github.com/ethpandaops/metricoor/internal/metric"
)

// DefaultMetricsChannel is the diagnostics channel carrying metric events.
const DefaultMetricsChannel = "metrics"

// Config configures extraction.
type Config struct {
	// MetricsChannel selects which diagnostics become metric events.
	MetricsChannel string
	// DefaultMetrics controls synthesised per-invocation metrics.
	DefaultMetrics flush.DefaultMetricsConfig
	// Tags are merged into every event. Event tags win on conflict.
	Tags metric.Tags
}

// Result is the outcome of extracting one batch of records.
type Result struct {
	Events  []metric.Event
	Dropped int
}

// Extractor converts trace records to metric events.
type Extractor struct {
	log    logrus.FieldLogger
	cfg    Config
	health *export.HealthMetrics
}

// NewExtractor creates an extractor.
func NewExtractor(log logrus.FieldLogger, cfg Config, health *export.HealthMetrics) *Extractor {
	if cfg.MetricsChannel == "" {
		cfg.MetricsChannel = DefaultMetricsChannel
	}

	return &Extractor{
		log:    log.WithField("component", "extractor"),
		cfg:    cfg,
		health: health,
	}
}

// Extract returns the events of records in order: for each record its
// default metrics first, then its explicit events. Malformed metric
// diagnostics are dropped with a warning.
func (x *Extractor) Extract(records []Record) Result {
	var res Result

	for _, r := range records {
		res.Events = append(res.Events, x.tagAll(DefaultEvents(r, x.cfg.DefaultMetrics))...)

		for _, d := range r.DiagnosticsChannelEvents {
			if d.Channel != x.cfg.MetricsChannel {
				continue
			}

			e, err := metric.Parse(d.Message)
			if err != nil {
				res.Dropped++

				x.log.WithError(err).WithFields(logrus.Fields{
					"script_name": r.ScriptName,
					"channel":     d.Channel,
				}).Warn("Dropping malformed metric event")

				if x.health != nil {
					x.health.EventsDropped.WithLabelValues("invalid").Inc()
				}

				continue
			}

			if e.Timestamp == 0 {
				e.Timestamp = d.Timestamp
			}

			if e.Timestamp == 0 {
				e.Timestamp = r.EventTimestamp
			}

			res.Events = append(res.Events, x.tag(e))
		}
	}

	return res
}

func (x *Extractor) tagAll(events []metric.Event) []metric.Event {
	for i := range events {
		events[i] = x.tag(events[i])
	}

	return events
}

func (x *Extractor) tag(e metric.Event) metric.Event {
	if len(x.cfg.Tags) > 0 {
		e.Tags = e.Tags.Merge(x.cfg.Tags)
	}

	return e
}
