package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/ingest"
	"github.com/ethpandaops/metricoor/internal/pipeline"
	"github.com/ethpandaops/metricoor/internal/sink"
	"github.com/ethpandaops/metricoor/internal/trace"
)

// shutdownTimeout bounds how long in-flight ingress requests may take.
const shutdownTimeout = 10 * time.Second

// Agent is the top-level orchestrator for metricoor.
type Agent interface {
	// Start initializes all components and begins accepting traces.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	sinks    []sink.Sink
	pipeline *pipeline.Pipeline
	ingest   *ingest.Server

	// started holds the sinks whose Lifecycle started, for reverse stop.
	started []sink.Sink
	cancel  context.CancelFunc
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	sinks, err := sink.New(log, cfg.Sinks, health)
	if err != nil {
		return nil, fmt.Errorf("creating sinks: %w", err)
	}

	extractor := trace.NewExtractor(log, trace.Config{
		MetricsChannel: cfg.Ingest.MetricsChannel,
		DefaultMetrics: cfg.Flush.DefaultMetrics,
		Tags:           cfg.Tags,
	}, health)

	p := pipeline.New(
		log,
		cfg.Flush,
		extractor,
		sink.NewFanout(log, sinks, health),
		health,
	)

	return &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		sinks:    sinks,
		pipeline: p,
		ingest:   ingest.NewServer(log, cfg.Ingest, p, health),
	}, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	phase := time.Now()

	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	a.health.AgentStartDuration.WithLabelValues("health").Set(time.Since(phase).Seconds())

	// 2. Connect sinks that hold connections or workers.
	phase = time.Now()

	for _, s := range a.sinks {
		lc, ok := s.(sink.Lifecycle)
		if !ok {
			a.log.WithField("sink", s.Name()).Info("Sink ready")

			continue
		}

		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		a.started = append(a.started, s)

		a.log.WithField("sink", s.Name()).Info("Sink started")
	}

	a.health.AgentStartDuration.WithLabelValues("sinks").Set(time.Since(phase).Seconds())

	// 3. Start the owner loop before accepting traffic.
	if err := a.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	// 4. Accept traces.
	phase = time.Now()

	if err := a.ingest.Start(ctx); err != nil {
		return fmt.Errorf("starting ingress: %w", err)
	}

	a.health.AgentStartDuration.WithLabelValues("ingest").Set(time.Since(phase).Seconds())

	a.log.WithFields(logrus.Fields{
		"sinks":               len(a.sinks),
		"max_buffer_size":     a.cfg.Flush.MaxBufferSize,
		"max_buffer_duration": a.cfg.Flush.FlushDelay(),
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	// Stop in reverse order: no new traces, final flush, then sinks.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.ingest.Stop(ctx); err != nil {
		a.log.WithError(err).Error("Error stopping ingress")
	}

	if err := a.pipeline.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping pipeline")
	}

	// Sink workers run on the start context, so it stays live until they stop.
	for i := len(a.started) - 1; i >= 0; i-- {
		s := a.started[i]

		if err := s.(sink.Lifecycle).Stop(); err != nil {
			a.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.health != nil {
		if err := a.health.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping health metrics")
		}
	}

	return nil
}
