// Package pipeline runs the single goroutine that owns the aggregation
// store and the flush scheduler.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/flush"
	"github.com/ethpandaops/metricoor/internal/metric"
	"github.com/ethpandaops/metricoor/internal/trace"
)

// ErrNotAccepting is returned by Submit before Start and after Stop.
var ErrNotAccepting = errors.New("pipeline is not accepting events")

// Ingested reports how many events of a submission were stored.
type Ingested struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

type batch struct {
	events []metric.Event
	reply  chan Ingested
}

// Pipeline serializes every store mutation and scheduler decision on one
// loop. Submit may be called from any goroutine.
type Pipeline struct {
	log       logrus.FieldLogger
	store     *aggregate.Store
	scheduler *flush.Scheduler
	extractor *trace.Extractor
	health    *export.HealthMetrics

	batches   chan batch
	quit      chan struct{}
	done      chan struct{}
	accepting atomic.Bool

	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a pipeline flushing into dispatcher.
func New(
	log logrus.FieldLogger,
	cfg flush.Config,
	extractor *trace.Extractor,
	dispatcher flush.Dispatcher,
	health *export.HealthMetrics,
	opts ...flush.Option,
) *Pipeline {
	store := aggregate.NewStore(log)

	if health != nil {
		opts = append(opts, flush.WithHealth(health))
	}

	return &Pipeline{
		log:       log.WithField("component", "pipeline"),
		store:     store,
		scheduler: flush.NewScheduler(log, cfg, store, dispatcher, opts...),
		extractor: extractor,
		health:    health,
		batches:   make(chan batch),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the owner loop until Stop is called or ctx is done. Start
// after Stop is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return nil
	}

	p.running = true
	p.accepting.Store(true)

	go p.run(ctx)

	return nil
}

// Stop rejects further submissions, flushes what is buffered and waits for
// every dispatch to finish.
func (p *Pipeline) Stop() error {
	p.mu.Lock()

	if p.stopped {
		p.mu.Unlock()

		return nil
	}

	p.stopped = true
	p.accepting.Store(false)
	close(p.quit)

	running := p.running
	p.mu.Unlock()

	if !running {
		return nil
	}

	<-p.done

	p.scheduler.Wait()
	p.scheduler.Close()

	p.log.Info("Pipeline stopped")

	return nil
}

// Submit extracts events from records and stores them.
func (p *Pipeline) Submit(ctx context.Context, records []trace.Record) (Ingested, error) {
	if p.health != nil {
		p.health.TracesReceived.Add(float64(len(records)))
	}

	res := p.extractor.Extract(records)

	in, err := p.SubmitEvents(ctx, res.Events)
	in.Dropped += res.Dropped

	return in, err
}

// SubmitEvents stores events as one batch and lets the scheduler react.
func (p *Pipeline) SubmitEvents(ctx context.Context, events []metric.Event) (Ingested, error) {
	if !p.accepting.Load() {
		p.reject(len(events))

		return Ingested{}, ErrNotAccepting
	}

	b := batch{events: events, reply: make(chan Ingested, 1)}

	select {
	case p.batches <- b:
	case <-p.quit:
		p.reject(len(events))

		return Ingested{}, ErrNotAccepting
	case <-p.done:
		p.reject(len(events))

		return Ingested{}, ErrNotAccepting
	case <-ctx.Done():
		return Ingested{}, ctx.Err()
	}

	// The loop always replies to a batch it received.
	return <-b.reply, nil
}

func (p *Pipeline) reject(n int) {
	if p.health != nil && n > 0 {
		p.health.EventsDropped.WithLabelValues("rejected").Add(float64(n))
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	p.log.Info("Pipeline started")

	for {
		select {
		case b := <-p.batches:
			b.reply <- p.ingest(ctx, b.events)
		case gen := <-p.scheduler.Expired():
			p.scheduler.OnTimer(ctx, gen)
		case <-p.quit:
			p.shutdown(ctx)

			return
		case <-ctx.Done():
			p.accepting.Store(false)
			p.shutdown(ctx)

			return
		}
	}
}

func (p *Pipeline) ingest(ctx context.Context, events []metric.Event) Ingested {
	var in Ingested

	for _, e := range events {
		if p.store.StoreMetric(e) {
			in.Accepted++

			continue
		}

		in.Dropped++
	}

	if p.health != nil {
		p.health.EventsReceived.Add(float64(in.Accepted))

		if in.Dropped > 0 {
			p.health.EventsDropped.WithLabelValues("invalid").Add(float64(in.Dropped))
		}
	}

	p.scheduler.OnBatchIngested(ctx)

	return in
}

func (p *Pipeline) shutdown(ctx context.Context) {
	p.log.WithField("buffered", p.store.Count()).Info("Flushing buffered metrics")

	p.scheduler.Flush(ctx, flush.TriggerShutdown)
}
