package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/aggregate"
	httpexport "github.com/ethpandaops/metricoor/internal/export/http"
	"github.com/ethpandaops/metricoor/internal/metric"
)

// Datadog v2 series metric types.
const (
	ddTypeCount = 1
	ddTypeGauge = 3
)

// DatadogConfig configures the Datadog sink.
type DatadogConfig struct {
	// Enabled enables the Datadog sink.
	Enabled bool `yaml:"enabled"`

	// APIKey authenticates against the Datadog API.
	APIKey string `yaml:"api_key"`

	// Site is the Datadog site, e.g. datadoghq.com or datadoghq.eu.
	// Defaults to datadoghq.com.
	Site string `yaml:"site"`

	// Address overrides the series endpoint derived from Site.
	Address string `yaml:"address"`

	// Compression is the request compression (none, gzip, zlib, zstd).
	// Defaults to gzip.
	Compression string `yaml:"compression"`

	// Timeout bounds one request.
	// Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxSeriesPerRequest splits large batches across requests.
	// Defaults to 1000.
	MaxSeriesPerRequest int `yaml:"max_series_per_request"`
}

// ApplyDefaults fills unset fields.
func (c *DatadogConfig) ApplyDefaults() {
	if c.Site == "" {
		c.Site = "datadoghq.com"
	}

	if c.Compression == "" {
		c.Compression = httpexport.CompressionGzip
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.MaxSeriesPerRequest == 0 {
		c.MaxSeriesPerRequest = 1000
	}
}

// Validate checks the configuration when enabled.
func (c *DatadogConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.APIKey == "" {
		return errors.New("api_key is required when enabled")
	}

	if c.Compression == httpexport.CompressionSnappy {
		return errors.New("snappy compression is not accepted by the Datadog API")
	}

	if c.MaxSeriesPerRequest < 0 {
		return errors.New("max_series_per_request must not be negative")
	}

	return nil
}

// SeriesURL returns the series endpoint.
func (c *DatadogConfig) SeriesURL() string {
	if c.Address != "" {
		return c.Address
	}

	return "https://api." + c.Site + "/api/v2/series"
}

type ddPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type ddSeries struct {
	Metric string    `json:"metric"`
	Type   int       `json:"type"`
	Points []ddPoint `json:"points"`
	Tags   []string  `json:"tags,omitempty"`
}

type ddPayload struct {
	Series []ddSeries `json:"series"`
}

// DatadogSink submits batches to the Datadog v2 series API.
type DatadogSink struct {
	log    logrus.FieldLogger
	cfg    DatadogConfig
	client *httpexport.Client
	now    func() time.Time
}

var (
	_ Sink      = (*DatadogSink)(nil)
	_ Lifecycle = (*DatadogSink)(nil)
)

// NewDatadogSink creates a Datadog sink.
func NewDatadogSink(log logrus.FieldLogger, cfg DatadogConfig) (*DatadogSink, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.WithField("sink", "datadog")

	client, err := httpexport.NewClient(log, httpexport.Config{
		Enabled:     true,
		Address:     cfg.SeriesURL(),
		Compression: cfg.Compression,
		Timeout:     cfg.Timeout,
		Headers: map[string]string{
			"DD-API-KEY": cfg.APIKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating datadog client: %w", err)
	}

	return &DatadogSink{
		log:    log,
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}, nil
}

// Name returns the sink identifier.
func (s *DatadogSink) Name() string {
	return "datadog"
}

// Start is a no-op; the client connects lazily.
func (s *DatadogSink) Start(_ context.Context) error {
	return nil
}

// Stop releases the client.
func (s *DatadogSink) Stop() error {
	return s.client.Close()
}

// SendMetrics converts payloads to series and posts them in chunks.
func (s *DatadogSink) SendMetrics(ctx context.Context, payloads []aggregate.Payload) error {
	series := toDatadogSeries(payloads, s.now())

	for start := 0; start < len(series); start += s.cfg.MaxSeriesPerRequest {
		end := min(start+s.cfg.MaxSeriesPerRequest, len(series))

		body, err := json.Marshal(ddPayload{Series: series[start:end]})
		if err != nil {
			return fmt.Errorf("encoding series: %w", err)
		}

		if err := s.client.Post(ctx, "application/json", body); err != nil {
			return fmt.Errorf("submitting series %d-%d of %d: %w", start, end, len(series), err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"payloads": len(payloads),
		"series":   len(series),
	}).Debug("Submitted series")

	return nil
}

// toDatadogSeries maps payloads to series. Counts become count series,
// gauges become gauge series, and each histogram stat becomes a gauge
// named "<metric>.<stat>" alongside a "<metric>.count" sample count.
func toDatadogSeries(payloads []aggregate.Payload, now time.Time) []ddSeries {
	series := make([]ddSeries, 0, len(payloads))

	for _, p := range payloads {
		ts := p.LastSeen / 1000
		if p.LastSeen <= 0 {
			ts = now.Unix()
		}

		tags := datadogTags(p.Tags)

		switch p.Type {
		case metric.TypeCount:
			series = append(series, ddSeries{
				Metric: p.Name,
				Type:   ddTypeCount,
				Points: []ddPoint{{Timestamp: ts, Value: p.Value}},
				Tags:   tags,
			})
		case metric.TypeGauge:
			series = append(series, ddSeries{
				Metric: p.Name,
				Type:   ddTypeGauge,
				Points: []ddPoint{{Timestamp: ts, Value: p.Value}},
				Tags:   tags,
			})
		case metric.TypeHistogram:
			for _, st := range p.Stats {
				series = append(series, ddSeries{
					Metric: p.StatName(st),
					Type:   ddTypeGauge,
					Points: []ddPoint{{Timestamp: ts, Value: st.Value}},
					Tags:   tags,
				})
			}

			series = append(series, ddSeries{
				Metric: p.Name + ".count",
				Type:   ddTypeCount,
				Points: []ddPoint{{Timestamp: ts, Value: float64(p.SampleCount)}},
				Tags:   tags,
			})
		}
	}

	return series
}

// datadogTags renders tags as sorted "key:value" strings. A null value
// becomes a bare key.
func datadogTags(tags metric.Tags) []string {
	if len(tags) == 0 {
		return nil
	}

	out := make([]string, 0, len(tags))

	for k, v := range tags {
		if v == nil {
			out = append(out, k)

			continue
		}

		out = append(out, k+":"+formatTagValue(v))
	}

	sort.Strings(out)

	return out
}

func formatTagValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}
