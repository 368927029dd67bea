package aggregate

import (
	"github.com/ethpandaops/metricoor/internal/metric"
)

// Stat is one resolved histogram statistic, e.g. "max" or "p95".
type Stat struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Payload is the read-only export form of an aggregated metric. No raw
// samples survive into a payload.
type Payload struct {
	Type        metric.Type `json:"type"`
	Name        string      `json:"name"`
	Tags        metric.Tags `json:"tags,omitempty"`
	FirstSeen   int64       `json:"first_seen"`
	LastSeen    int64       `json:"last_seen"`
	SampleCount uint64      `json:"sample_count"`
	// Value is the sum for counts, the latest value for gauges and the
	// sample sum for histograms.
	Value float64 `json:"value"`
	Stats []Stat  `json:"stats,omitempty"`
}

// Stat returns the named statistic if it was requested.
func (p Payload) Stat(name string) (float64, bool) {
	for _, s := range p.Stats {
		if s.Name == name {
			return s.Value, true
		}
	}

	return 0, false
}

// StatName joins a metric name and a stat, e.g. "cpu_time.p95".
func (p Payload) StatName(s Stat) string {
	return p.Name + "." + s.Name
}
