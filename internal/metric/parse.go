package metric

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidType is returned when the metric type is not recognised.
	ErrInvalidType = errors.New("invalid metric type")
	// ErrMissingName is returned when the metric name is absent or empty.
	ErrMissingName = errors.New("missing metric name")
	// ErrInvalidValue is returned when the value is not a finite number.
	ErrInvalidValue = errors.New("invalid metric value")
	// ErrInvalidTags is returned when tags are not a mapping of scalars.
	ErrInvalidTags = errors.New("invalid metric tags")
	// ErrInvalidOption is returned for unknown aggregates or out of range
	// percentiles.
	ErrInvalidOption = errors.New("invalid metric options")
)

// Validate performs the structural check every event must pass before it
// is stored.
func Validate(e Event) error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, e.Type)
	}

	if strings.TrimSpace(e.Name) == "" {
		return ErrMissingName
	}

	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, e.Value)
	}

	for k, v := range e.Tags {
		if k == "" {
			return fmt.Errorf("%w: empty tag name", ErrInvalidTags)
		}

		if !isScalar(v) {
			return fmt.Errorf("%w: tag %q has non-scalar value of type %T", ErrInvalidTags, k, v)
		}
	}

	if e.Options != nil {
		if err := e.Options.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks aggregates are known and percentiles lie in (0,1).
func (o Options) Validate() error {
	for _, a := range o.Aggregates {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown aggregate %q", ErrInvalidOption, a)
		}
	}

	for _, p := range o.Percentiles {
		if math.IsNaN(p) || p <= 0 || p >= 1 {
			return fmt.Errorf("%w: percentile %v not in (0,1)", ErrInvalidOption, p)
		}
	}

	return nil
}

// rawEvent keeps every field undecoded so each can be type checked on its
// own and reported with a precise error.
type rawEvent struct {
	Type      json.RawMessage `json:"type"`
	Name      json.RawMessage `json:"name"`
	Value     json.RawMessage `json:"value"`
	Tags      json.RawMessage `json:"tags"`
	Timestamp json.RawMessage `json:"timestamp"`
	Options   json.RawMessage `json:"options"`
}

// Parse decodes a raw diagnostic message into a validated Event. A missing
// timestamp is left as zero for the caller to fill in.
func Parse(data []byte) (Event, error) {
	var raw rawEvent

	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decoding metric event: %w", err)
	}

	var (
		e   Event
		err error
	)

	var typeName string
	if !isPresent(raw.Type) {
		return Event{}, fmt.Errorf("%w: missing", ErrInvalidType)
	}

	if err := json.Unmarshal(raw.Type, &typeName); err != nil {
		return Event{}, fmt.Errorf("%w: type must be a string", ErrInvalidType)
	}

	if e.Type, err = ParseType(typeName); err != nil {
		return Event{}, err
	}

	if !isPresent(raw.Name) {
		return Event{}, ErrMissingName
	}

	if err := json.Unmarshal(raw.Name, &e.Name); err != nil {
		return Event{}, fmt.Errorf("%w: name must be a string", ErrMissingName)
	}

	if !isPresent(raw.Value) {
		return Event{}, fmt.Errorf("%w: missing", ErrInvalidValue)
	}

	if err := json.Unmarshal(raw.Value, &e.Value); err != nil {
		return Event{}, fmt.Errorf("%w: value must be a number", ErrInvalidValue)
	}

	if isPresent(raw.Tags) {
		var tags map[string]any
		if err := json.Unmarshal(raw.Tags, &tags); err != nil {
			return Event{}, fmt.Errorf("%w: tags must be an object", ErrInvalidTags)
		}

		e.Tags = tags
	}

	if isPresent(raw.Timestamp) {
		var ts float64
		if err := json.Unmarshal(raw.Timestamp, &ts); err != nil {
			return Event{}, fmt.Errorf("decoding metric timestamp: %w", err)
		}

		e.Timestamp = int64(ts)
	}

	if isPresent(raw.Options) {
		var opts Options
		if err := json.Unmarshal(raw.Options, &opts); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}

		for i, a := range opts.Aggregates {
			opts.Aggregates[i] = Aggregate(strings.ToLower(string(a)))
		}

		e.Options = &opts
	}

	if err := Validate(e); err != nil {
		return Event{}, err
	}

	return e, nil
}

func isPresent(m json.RawMessage) bool {
	return len(m) > 0 && !bytes.Equal(bytes.TrimSpace(m), []byte("null"))
}
