package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/export"
	"github.com/ethpandaops/metricoor/internal/version"
)

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 512

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}

	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

// Client posts compressed bodies to one endpoint. It is safe for
// concurrent use.
type Client struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	log        logrus.FieldLogger
}

// NewClient creates a client for cfg. Defaults are applied first.
func NewClient(log logrus.FieldLogger, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	idle := 2
	if cfg.Queue.Enabled {
		idle = cfg.Queue.Workers * 2
	}

	transport := &http.Transport{
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		compressor: compressor,
		log:        log,
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Post compresses body and sends it with contentType. Configured headers
// are applied last so they can override the defaults. The flush batch ID
// carried by ctx is sent as X-Batch-ID.
func (c *Client) Post(ctx context.Context, contentType string, body []byte) error {
	compressed, err := c.compressor.Compress(body)
	if err != nil {
		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Address, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := c.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	if id := export.BatchID(ctx); id != "" {
		req.Header.Set(export.BatchIDHeader, id)
	}

	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	c.log.WithFields(logrus.Fields{
		"bytes":      len(body),
		"compressed": len(compressed),
		"status":     resp.StatusCode,
	}).Debug("Delivered request")

	return nil
}

// Close releases the compressor.
func (c *Client) Close() error {
	return c.compressor.Close()
}
