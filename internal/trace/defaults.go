package trace

import (
	"github.com/ethpandaops/metricoor/internal/flush"
	"github.com/ethpandaops/metricoor/internal/metric"
)

// Default metric names, before the configured prefix.
const (
	MetricInvocations = "invocations"
	MetricCPUTime     = "cpu_time"
	MetricWallTime    = "wall_time"
)

// DefaultEvents synthesises the per-invocation metrics for r. They go
// through the same store path as explicit events.
func DefaultEvents(r Record, cfg flush.DefaultMetricsConfig) []metric.Event {
	prefix := cfg.MetricPrefix()
	tags := contextTags(r)

	events := make([]metric.Event, 0, 3)

	if cfg.InvocationCounterEnabled() {
		events = append(events, metric.Event{
			Type:      metric.TypeCount,
			Name:      prefix + MetricInvocations,
			Value:     1,
			Tags:      tags,
			Timestamp: r.EventTimestamp,
		})
	}

	if cfg.DurationCountersEnabled() {
		for _, d := range []struct {
			name  string
			value float64
		}{
			{MetricCPUTime, r.CPUTime},
			{MetricWallTime, r.WallTime},
		} {
			opts := metric.DefaultHistogramOptions()

			events = append(events, metric.Event{
				Type:      metric.TypeHistogram,
				Name:      prefix + d.name,
				Value:     d.value,
				Tags:      tags.Clone(),
				Timestamp: r.EventTimestamp,
				Options:   &opts,
			})
		}
	}

	return events
}

func contextTags(r Record) metric.Tags {
	return metric.Tags{
		"script_name":    r.ScriptName,
		"script_version": r.Version(),
		"outcome":        r.Outcome,
		"trigger":        r.Trigger(),
	}
}
