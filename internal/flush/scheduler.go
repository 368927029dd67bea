package flush

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
)

// Trigger names what caused a flush.
type Trigger string

const (
	TriggerSize     Trigger = "size"
	TriggerDuration Trigger = "duration"
	TriggerShutdown Trigger = "shutdown"
)

// expiredBuffer is large enough that an elapsed timer almost never waits
// on the owning loop.
const expiredBuffer = 16

// Dispatcher delivers a drained batch. sink.Fanout implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, payloads []aggregate.Payload) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithHealth attaches health metrics.
func WithHealth(h *export.HealthMetrics) Option {
	return func(s *Scheduler) {
		s.health = h
	}
}

// Scheduler decides when the aggregation store is flushed. It is Idle or
// Scheduled; a Scheduled flush is identified by the generation captured
// when its timer was armed, and only runs if that generation is still
// live when the timer elapses.
//
// All methods except Expired, Wait and Close must be called from the
// single goroutine that owns the store.
type Scheduler struct {
	log        logrus.FieldLogger
	cfg        Config
	store      *aggregate.Store
	dispatcher Dispatcher
	clock      Clock
	health     *export.HealthMetrics

	generation uint64
	scheduled  bool
	timer      Timer

	expired   chan uint64
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler flushing store into dispatcher.
func NewScheduler(
	log logrus.FieldLogger,
	cfg Config,
	store *aggregate.Store,
	dispatcher Dispatcher,
	opts ...Option,
) *Scheduler {
	cfg.ApplyDefaults()

	s := &Scheduler{
		log:        log.WithField("component", "flush"),
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		clock:      RealClock(),
		expired:    make(chan uint64, expiredBuffer),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Expired delivers the generation of each elapsed timer. The owner passes
// it back through OnTimer.
func (s *Scheduler) Expired() <-chan uint64 {
	return s.expired
}

// Generation returns the live flush generation.
func (s *Scheduler) Generation() uint64 {
	return s.generation
}

// Scheduled reports whether a timed flush is pending.
func (s *Scheduler) Scheduled() bool {
	return s.scheduled
}

// OnBatchIngested is called after a batch of events has been stored.
func (s *Scheduler) OnBatchIngested(ctx context.Context) {
	count := s.store.Count()

	if s.health != nil {
		s.health.BufferedMetrics.Set(float64(count))
	}

	switch {
	case count >= s.cfg.MaxBufferSize:
		s.performFlush(ctx, TriggerSize)
	case s.scheduled:
		// One timer governs every ingestion in the window.
	case count > 0:
		s.schedule()
	}
}

// OnTimer handles an elapsed timer for gen. A timer whose generation was
// superseded by an earlier flush is a no-op.
func (s *Scheduler) OnTimer(ctx context.Context, gen uint64) {
	if gen != s.generation {
		s.log.WithFields(logrus.Fields{
			"timer_generation": gen,
			"live_generation":  s.generation,
		}).Debug("Ignoring stale flush timer")

		if s.health != nil {
			s.health.StaleTimers.Inc()
		}

		return
	}

	s.performFlush(ctx, TriggerDuration)
}

// Flush drains and dispatches the buffer immediately.
func (s *Scheduler) Flush(ctx context.Context, trigger Trigger) {
	s.performFlush(ctx, trigger)
}

// Wait blocks until every background dispatch has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close stops any pending timer and releases timer callbacks still waiting
// to report. It does not wait for dispatches; use Wait.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.stopTimer()
}

func (s *Scheduler) schedule() {
	s.generation++
	gen := s.generation
	s.scheduled = true

	delay := s.cfg.FlushDelay()

	s.timer = s.clock.AfterFunc(delay, func() {
		select {
		case s.expired <- gen:
		case <-s.done:
		}
	})

	s.log.WithFields(logrus.Fields{
		"generation": gen,
		"delay":      delay,
	}).Debug("Scheduled flush")
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) performFlush(ctx context.Context, trigger Trigger) {
	// Invalidate any timer armed for the current window. Stopping it is
	// best effort; it may already have queued its generation.
	s.generation++
	s.scheduled = false
	s.stopTimer()

	started := s.clock.Now()

	payloads, err := s.drain()
	if err != nil {
		s.log.WithError(err).WithField("trigger", trigger).
			Error("Flush failed, buffered metrics discarded")

		if s.health != nil {
			s.health.FlushErrors.Inc()
		}

		return
	}

	if s.health != nil {
		s.health.BufferedMetrics.Set(0)
	}

	if len(payloads) == 0 {
		return
	}

	if s.health != nil {
		s.health.FlushesTotal.WithLabelValues(string(trigger)).Inc()
		s.health.FlushBatchSize.Observe(float64(len(payloads)))
		s.health.FlushDuration.Observe(s.clock.Now().Sub(started).Seconds())
	}

	s.dispatch(ctx, trigger, payloads)
}

// drain snapshots and clears the store, converting a panic during export
// into an error. The store is empty afterwards either way.
func (s *Scheduler) drain() (payloads []aggregate.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.store.Clear()

			payloads = nil
			err = fmt.Errorf("draining store: panic: %v", r)
		}
	}()

	return s.store.Drain(), nil
}

// dispatch hands payloads to the dispatcher in the background. The
// dispatch outlives ctx cancellation and is bounded by DispatchTimeout.
func (s *Scheduler) dispatch(ctx context.Context, trigger Trigger, payloads []aggregate.Payload) {
	batchID := uuid.New().String()
	generation := s.generation

	log := s.log.WithFields(logrus.Fields{
		"batch_id":   batchID,
		"trigger":    trigger,
		"payloads":   len(payloads),
		"generation": generation,
	})

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Dispatch panicked")

				if s.health != nil {
					s.health.DispatchFailures.Inc()
				}
			}
		}()

		dctx := export.WithBatchID(context.WithoutCancel(ctx), batchID)

		var cancel context.CancelFunc
		if s.cfg.DispatchTimeout > 0 {
			dctx, cancel = context.WithTimeout(dctx, s.cfg.DispatchTimeout)
		} else {
			dctx, cancel = context.WithCancel(dctx)
		}
		defer cancel()

		start := time.Now()

		if err := s.dispatcher.Dispatch(dctx, payloads); err != nil {
			log.WithError(err).Warn("Flush delivered with failures")

			if s.health != nil {
				s.health.DispatchFailures.Inc()
			}

			return
		}

		log.WithField("duration", time.Since(start)).Debug("Flush delivered")
	}()
}
