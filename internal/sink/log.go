package sink

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
)

// LogConfig configures the log sink.
type LogConfig struct {
	// Enabled enables the log sink.
	Enabled bool `yaml:"enabled"`

	// Verbose logs every payload in addition to the batch summary.
	Verbose bool `yaml:"verbose"`
}

// LogSink writes flushed batches to the agent log. Useful for local
// debugging when no backend is reachable.
type LogSink struct {
	log logrus.FieldLogger
	cfg LogConfig
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a log sink.
func NewLogSink(log logrus.FieldLogger, cfg LogConfig) *LogSink {
	return &LogSink{
		log: log.WithField("sink", "log"),
		cfg: cfg,
	}
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// SendMetrics logs a summary of payloads and, when verbose, each payload.
func (s *LogSink) SendMetrics(ctx context.Context, payloads []aggregate.Payload) error {
	byType := make(map[string]int, 3)

	var samples uint64

	for _, p := range payloads {
		byType[string(p.Type)]++
		samples += p.SampleCount
	}

	s.log.WithFields(logrus.Fields{
		"batch_id":   export.BatchID(ctx),
		"payloads":   len(payloads),
		"samples":    samples,
		"counts":     byType["count"],
		"gauges":     byType["gauge"],
		"histograms": byType["histogram"],
	}).Info("Flushed metric batch")

	if !s.cfg.Verbose {
		return nil
	}

	for _, p := range payloads {
		fields := logrus.Fields{
			"name":         p.Name,
			"type":         p.Type,
			"tags":         p.Tags,
			"sample_count": p.SampleCount,
			"value":        p.Value,
		}

		for _, st := range p.Stats {
			fields[st.Name] = st.Value
		}

		s.log.WithFields(fields).Info("Flushed metric")
	}

	return nil
}
