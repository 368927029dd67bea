package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "metricoor"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for agent health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// === Tier 1: Critical (Detect Failures) ===

	// Ingress
	TracesReceived prometheus.Counter
	EventsReceived prometheus.Counter
	EventsDropped  *prometheus.CounterVec // reason (invalid/rejected)
	IngestRequests *prometheus.CounterVec // status

	// Flush
	FlushErrors      prometheus.Counter
	DispatchFailures prometheus.Counter

	// Sinks
	SinkErrors          *prometheus.CounterVec // sink
	ClickHouseConnected *prometheus.GaugeVec   // sink

	// === Tier 2: Important (Diagnose Performance) ===

	BufferedMetrics  prometheus.Gauge
	FlushesTotal     *prometheus.CounterVec   // trigger (size/duration/shutdown)
	StaleTimers      prometheus.Counter       // timer wake-ups for a superseded generation
	FlushDuration    prometheus.Histogram     // drain + export
	FlushBatchSize   prometheus.Histogram     // payloads per flush
	SinkSendDuration *prometheus.HistogramVec // sink
	SinkPayloadsSent *prometheus.CounterVec   // sink

	// === Tier 3: Nice-to-Have (Deep Observability) ===

	ClickHouseBatchDuration *prometheus.HistogramVec // operation
	AgentStartDuration      *prometheus.GaugeVec     // phase

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		// === Tier 1: Critical ===

		TracesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_received_total",
			Help:      "Total trace records received on ingress.",
		}),
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total metric events that passed validation and were stored.",
		}),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total metric events dropped by reason.",
			},
			[]string{"reason"},
		),
		IngestRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_requests_total",
				Help:      "Total ingress requests by response status.",
			},
			[]string{"status"},
		),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Total flush cycles that failed before dispatch.",
		}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total flushes where at least one sink failed.",
		}),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Total failed batch deliveries by sink.",
			},
			[]string{"sink"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),

		// === Tier 2: Important ===

		BufferedMetrics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_metrics",
			Help:      "Distinct metric keys currently buffered.",
		}),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Total executed flushes by trigger.",
			},
			[]string{"trigger"},
		),
		StaleTimers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_timers_total",
			Help:      "Total flush timers that fired after being superseded.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time to drain and export the buffer.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}, // 100us-50ms
		}),
		FlushBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_size",
			Help:      "Number of payloads per flush.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		}),
		SinkSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_send_duration_seconds",
				Help:      "Time for a sink to deliver one batch.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}, // 5ms-30s
			},
			[]string{"sink"},
		),
		SinkPayloadsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_payloads_sent_total",
				Help:      "Total payloads delivered by sink.",
			},
			[]string{"sink"},
		),

		// === Tier 3: Nice-to-Have ===

		ClickHouseBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clickhouse_batch_duration_seconds",
				Help:      "Time to write a batch to ClickHouse by operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // 1ms-500ms
			},
			[]string{"operation"},
		),
		AgentStartDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_start_duration_seconds",
				Help:      "Duration of agent startup phases.",
			},
			[]string{"phase"},
		),
	}

	reg.MustRegister(
		h.TracesReceived,
		h.EventsReceived,
		h.EventsDropped,
		h.IngestRequests,
		h.FlushErrors,
		h.DispatchFailures,
		h.SinkErrors,
		h.ClickHouseConnected,
	)

	reg.MustRegister(
		h.BufferedMetrics,
		h.FlushesTotal,
		h.StaleTimers,
		h.FlushDuration,
		h.FlushBatchSize,
		h.SinkSendDuration,
		h.SinkPayloadsSent,
	)

	reg.MustRegister(
		h.ClickHouseBatchDuration,
		h.AgentStartDuration,
	)

	return h
}

// Registry returns the underlying registry.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Start begins serving /metrics, /healthz and pprof.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
