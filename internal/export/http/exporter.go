// Package http delivers JSON and NDJSON bodies to HTTP endpoints, either
// within the caller or through a background batch processor.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"
)

// Exporter implements processor.ItemExporter for HTTP NDJSON export.
type Exporter[T any] struct {
	client *Client
	log    logrus.FieldLogger
}

// compile-time check that Exporter implements ItemExporter.
var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter creates a new HTTP exporter.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	log = log.WithField("component", "http_exporter")

	client, err := NewClient(log, cfg)
	if err != nil {
		return nil, err
	}

	return &Exporter[T]{
		client: client,
		log:    log,
	}, nil
}

// ExportItems exports a batch of items to the HTTP endpoint as NDJSON.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	data, err := EncodeNDJSON(items)
	if err != nil {
		return err
	}

	if err := e.client.Post(ctx, "application/x-ndjson", data); err != nil {
		return err
	}

	e.log.WithField("items", len(items)).Debug("Exported batch via HTTP")

	return nil
}

// Shutdown shuts down the exporter.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	return e.client.Close()
}

// EncodeNDJSON encodes items one JSON document per line, skipping nils.
func EncodeNDJSON[T any](items []*T) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(items) * 256)

	encoder := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := encoder.Encode(item); err != nil {
			return nil, fmt.Errorf("encoding item: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// NewProcessor creates a BatchItemProcessor backed by an Exporter. Extra
// options are applied after the queue settings. The caller owns Start and
// Shutdown.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
	opts ...processor.BatchItemProcessorOption,
) (*processor.BatchItemProcessor[T], error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	options := append([]processor.BatchItemProcessorOption{
		processor.WithMaxQueueSize(cfg.Queue.MaxQueueSize),
		processor.WithBatchTimeout(cfg.Queue.BatchTimeout),
		processor.WithExportTimeout(cfg.Queue.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.Queue.BatchSize),
		processor.WithWorkers(cfg.Queue.Workers),
	}, opts...)

	proc, err := processor.NewBatchItemProcessor[T](exporter, name, log, options...)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
