package aggregate

import (
	"github.com/ethpandaops/metricoor/internal/metric"
)

// Metric accumulates every event seen for one key within a buffering
// window. Count and gauge metrics keep a single value; histograms keep all
// raw samples until export.
// Not safe for concurrent use; the owning Store serializes access.
type Metric struct {
	Key         metric.Key
	Type        metric.Type
	Name        string
	Tags        metric.Tags
	FirstSeen   int64
	LastSeen    int64
	SampleCount uint64

	value   float64
	samples []float64
	options metric.Options
}

// newMetric creates an accumulator seeded with its first event.
func newMetric(key metric.Key, e metric.Event) *Metric {
	m := &Metric{
		Key:         key,
		Type:        e.Type,
		Name:        e.Name,
		Tags:        e.Tags.Clone(),
		FirstSeen:   e.Timestamp,
		LastSeen:    e.Timestamp,
		SampleCount: 1,
	}

	switch e.Type {
	case metric.TypeHistogram:
		m.samples = []float64{e.Value}
		m.options = e.HistogramOptions().Merge(metric.Options{})
	default:
		m.value = e.Value
	}

	return m
}

// add combines e into the accumulator according to its type.
func (m *Metric) add(e metric.Event) {
	m.SampleCount++

	if e.Timestamp < m.FirstSeen {
		m.FirstSeen = e.Timestamp
	}

	switch m.Type {
	case metric.TypeCount:
		m.value += e.Value
	case metric.TypeGauge:
		// Equal timestamps resolve to the later ingestion.
		if e.Timestamp >= m.LastSeen {
			m.value = e.Value
		}
	case metric.TypeHistogram:
		m.samples = append(m.samples, e.Value)

		if e.Options != nil {
			m.options = m.options.Merge(*e.Options)
		}
	}

	if e.Timestamp > m.LastSeen {
		m.LastSeen = e.Timestamp
	}
}

// Value returns the combined value for count and gauge metrics.
func (m *Metric) Value() float64 {
	return m.value
}

// Samples returns the number of raw histogram samples held.
func (m *Metric) Samples() int {
	return len(m.samples)
}

// Payload resolves the accumulator into its exported form. Histogram
// aggregates and percentiles are computed here.
func (m *Metric) Payload() Payload {
	p := Payload{
		Type:        m.Type,
		Name:        m.Name,
		Tags:        m.Tags,
		FirstSeen:   m.FirstSeen,
		LastSeen:    m.LastSeen,
		SampleCount: m.SampleCount,
		Value:       m.value,
	}

	if m.Type != metric.TypeHistogram {
		return p
	}

	opts := m.options
	if len(opts.Aggregates) == 0 && len(opts.Percentiles) == 0 {
		opts = metric.DefaultHistogramOptions()
	}

	s := summarize(m.samples)
	p.Value = s.sum
	p.Stats = make([]Stat, 0, len(opts.Aggregates)+len(opts.Percentiles))

	for _, a := range opts.Aggregates {
		var v float64

		switch a {
		case metric.AggregateMax:
			v = s.max
		case metric.AggregateMin:
			v = s.min
		case metric.AggregateAvg:
			v = s.avg()
		case metric.AggregateSum:
			v = s.sum
		}

		p.Stats = append(p.Stats, Stat{Name: string(a), Value: v})
	}

	if len(opts.Percentiles) > 0 {
		sorted := sortedCopy(m.samples)

		for _, pct := range opts.Percentiles {
			p.Stats = append(p.Stats, Stat{
				Name:  PercentileName(pct),
				Value: Percentile(sorted, pct),
			})
		}
	}

	return p
}
