package metric

import (
	"fmt"
	"strings"
)

// Type identifies how samples for a metric are combined.
type Type string

const (
	TypeCount     Type = "count"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
)

// ParseType parses a metric type name. Matching is case-insensitive so
// that both "count" and "COUNT" are accepted from instrumented code.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeCount:
		return TypeCount, nil
	case TypeGauge:
		return TypeGauge, nil
	case TypeHistogram:
		return TypeHistogram, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// Valid returns whether t is a recognised metric type.
func (t Type) Valid() bool {
	return t == TypeCount || t == TypeGauge || t == TypeHistogram
}

// String returns the type name.
func (t Type) String() string { return string(t) }

// Aggregate names a statistic computed over histogram samples at export time.
type Aggregate string

const (
	AggregateMax Aggregate = "max"
	AggregateMin Aggregate = "min"
	AggregateAvg Aggregate = "avg"
	AggregateSum Aggregate = "sum"
)

// aggregateOrder is the order aggregates are emitted in.
var aggregateOrder = []Aggregate{
	AggregateMax,
	AggregateMin,
	AggregateAvg,
	AggregateSum,
}

// Valid returns whether a is a recognised aggregate.
func (a Aggregate) Valid() bool {
	switch a {
	case AggregateMax, AggregateMin, AggregateAvg, AggregateSum:
		return true
	default:
		return false
	}
}

// Options controls what a histogram resolves to on export.
type Options struct {
	Aggregates  []Aggregate `json:"aggregates,omitempty"`
	Percentiles []float64   `json:"percentiles,omitempty"`
}

// DefaultHistogramOptions is used for histograms submitted without options.
func DefaultHistogramOptions() Options {
	return Options{
		Aggregates:  []Aggregate{AggregateMax, AggregateMin, AggregateAvg, AggregateSum},
		Percentiles: []float64{0.5, 0.9, 0.95, 0.99},
	}
}

// Merge returns the union of o and other, aggregates in canonical order and
// percentiles ascending with duplicates removed.
func (o Options) Merge(other Options) Options {
	seenAgg := make(map[Aggregate]struct{}, len(o.Aggregates)+len(other.Aggregates))
	for _, a := range o.Aggregates {
		seenAgg[a] = struct{}{}
	}

	for _, a := range other.Aggregates {
		seenAgg[a] = struct{}{}
	}

	merged := Options{
		Aggregates: make([]Aggregate, 0, len(seenAgg)),
	}

	for _, a := range aggregateOrder {
		if _, ok := seenAgg[a]; ok {
			merged.Aggregates = append(merged.Aggregates, a)
		}
	}

	merged.Percentiles = mergePercentiles(o.Percentiles, other.Percentiles)

	return merged
}

// Event is one raw, timestamped observation submitted by instrumented code.
// Events are treated as immutable once created.
type Event struct {
	Type      Type     `json:"type"`
	Name      string   `json:"name"`
	Value     float64  `json:"value"`
	Tags      Tags     `json:"tags,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Options   *Options `json:"options,omitempty"`
}

// Key returns the aggregation identity of the event.
func (e Event) Key() Key {
	return NewKey(e.Type, e.Name, e.Tags)
}

// HistogramOptions returns the event's options, falling back to the
// histogram defaults when none were given.
func (e Event) HistogramOptions() Options {
	if e.Options == nil {
		return DefaultHistogramOptions()
	}

	return *e.Options
}
