package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	"github.com/ethpandaops/metricoor/internal/export"
)

// ErrSinkPanic marks a failure caused by a panicking sink.
var ErrSinkPanic = errors.New("sink panicked")

// Failure is one sink's failed delivery.
type Failure struct {
	Sink string
	Err  error
}

// DispatchError reports every sink that failed during one dispatch.
type DispatchError struct {
	Total    int
	Failures []Failure
}

func (e *DispatchError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.Sink+": "+f.Err.Error())
	}

	return fmt.Sprintf("%d of %d sinks failed: %s",
		len(e.Failures), e.Total, strings.Join(reasons, "; "))
}

// Unwrap exposes each sink's error to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}

	return errs
}

// Succeeded returns how many sinks delivered the batch.
func (e *DispatchError) Succeeded() int {
	return e.Total - len(e.Failures)
}

// Fanout delivers each batch to every sink concurrently.
type Fanout struct {
	log    logrus.FieldLogger
	sinks  []Sink
	health *export.HealthMetrics
}

// NewFanout creates a fanout over sinks.
func NewFanout(
	log logrus.FieldLogger,
	sinks []Sink,
	health *export.HealthMetrics,
) *Fanout {
	return &Fanout{
		log:    log.WithField("component", "fanout"),
		sinks:  sinks,
		health: health,
	}
}

// Sinks returns the configured sinks.
func (f *Fanout) Sinks() []Sink {
	return f.sinks
}

// Dispatch calls every sink with payloads and waits for all of them. One
// sink failing or panicking never stops the others. Returns a
// *DispatchError if any sink failed.
func (f *Fanout) Dispatch(ctx context.Context, payloads []aggregate.Payload) error {
	var g errgroup.Group

	// Each goroutine owns one slot, keeping failures in configured order.
	errs := make([]error, len(f.sinks))

	for i, s := range f.sinks {
		g.Go(func() error {
			errs[i] = f.send(ctx, s, payloads)

			// Never short-circuit the group.
			return nil
		})
	}

	_ = g.Wait()

	var failures []Failure

	for i, err := range errs {
		if err != nil {
			failures = append(failures, Failure{Sink: f.sinks[i].Name(), Err: err})
		}
	}

	if len(failures) == 0 {
		return nil
	}

	return &DispatchError{Total: len(f.sinks), Failures: failures}
}

func (f *Fanout) send(ctx context.Context, s Sink, payloads []aggregate.Payload) (err error) {
	name := s.Name()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}

		if f.health != nil {
			f.health.SinkSendDuration.WithLabelValues(name).
				Observe(time.Since(started).Seconds())
		}

		log := f.log.WithFields(logrus.Fields{
			"sink":     name,
			"payloads": len(payloads),
			"batch_id": export.BatchID(ctx),
		})

		if err != nil {
			if f.health != nil {
				f.health.SinkErrors.WithLabelValues(name).Inc()
			}

			log.WithError(err).Warn("Sink delivery failed")

			return
		}

		if f.health != nil {
			f.health.SinkPayloadsSent.WithLabelValues(name).Add(float64(len(payloads)))
		}

		log.WithField("duration", time.Since(started)).Debug("Sink delivered batch")
	}()

	return s.SendMetrics(ctx, payloads)
}
