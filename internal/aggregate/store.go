package aggregate

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/metric"
)

// Store accumulates metric events keyed by their aggregation identity.
// Within one window it holds at most one Metric per distinct key.
//
// Store is not safe for concurrent use. It is owned by a single
// processing loop which serializes every call.
type Store struct {
	log     logrus.FieldLogger
	metrics map[metric.Key]*Metric
	samples uint64
}

// NewStore creates an empty store.
func NewStore(log logrus.FieldLogger) *Store {
	return &Store{
		log:     log.WithField("component", "aggregate"),
		metrics: make(map[metric.Key]*Metric, 64),
	}
}

// StoreMetric folds e into the store. An invalid event is logged and
// dropped without touching existing state. Returns whether e was stored.
func (s *Store) StoreMetric(e metric.Event) bool {
	if err := metric.Validate(e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"name": e.Name,
			"type": e.Type,
		}).Warn("Dropping invalid metric event")

		return false
	}

	key := e.Key()

	if m, ok := s.metrics[key]; ok {
		m.add(e)
	} else {
		s.metrics[key] = newMetric(key, e)
	}

	s.samples++

	return true
}

// Count returns the number of distinct keys held.
func (s *Store) Count() int {
	return len(s.metrics)
}

// Samples returns the number of raw events folded in since the last clear.
func (s *Store) Samples() uint64 {
	return s.samples
}

// Get returns the accumulator for key, if present.
func (s *Store) Get(key metric.Key) (*Metric, bool) {
	m, ok := s.metrics[key]

	return m, ok
}

// Payloads exports every held metric, ordered by key so output is
// deterministic. The store is left unchanged.
func (s *Store) Payloads() []Payload {
	return exportPayloads(s.metrics)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.metrics = make(map[metric.Key]*Metric, len(s.metrics))
	s.samples = 0
}

// Drain detaches the current window, leaves the store empty and returns
// the exported window. It is the only read path used by the flush
// scheduler, so no event can land between the snapshot and the clear.
func (s *Store) Drain() []Payload {
	detached := s.metrics
	s.Clear()

	return exportPayloads(detached)
}

func exportPayloads(metrics map[metric.Key]*Metric) []Payload {
	if len(metrics) == 0 {
		return nil
	}

	keys := make([]metric.Key, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keyLess(keys[i], keys[j])
	})

	out := make([]Payload, 0, len(keys))
	for _, k := range keys {
		out = append(out, metrics[k].Payload())
	}

	return out
}

// keyLess orders keys by type, then name, then canonical tags.
func keyLess(a, b metric.Key) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}

	if a.Name != b.Name {
		return a.Name < b.Name
	}

	return a.Tags < b.Tags
}
