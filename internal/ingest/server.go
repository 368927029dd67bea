// Package ingest serves the HTTP endpoint that receives trace batches.
package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricoor/internal/export"
	httpexport "github.com/ethpandaops/metricoor/internal/export/http"
	"github.com/ethpandaops/metricoor/internal/pipeline"
	"github.com/ethpandaops/metricoor/internal/trace"
)

// Submitter accepts decoded trace batches. pipeline.Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, records []trace.Record) (pipeline.Ingested, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server receives trace batches over HTTP.
type Server struct {
	log       logrus.FieldLogger
	cfg       Config
	submitter Submitter
	health    *export.HealthMetrics

	server   *http.Server
	listener net.Listener
}

// NewServer creates an ingress server.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	submitter Submitter,
	health *export.HealthMetrics,
) *Server {
	cfg.ApplyDefaults()

	return &Server{
		log:       log.WithField("component", "ingest"),
		cfg:       cfg,
		submitter: submitter,
		health:    health,
	}
}

// Handler returns the HTTP handler serving the trace path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleTraces)

	return mux
}

// Start begins listening.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithFields(logrus.Fields{
			"addr": ln.Addr().String(),
			"path": s.cfg.Path,
		}).Info("Ingress server started")

		if err := s.server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Ingress server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop stops accepting requests and waits for in-flight ones.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.respond(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})

		return
	}

	if !s.authorized(r) {
		s.respond(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})

		return
	}

	body, err := httpexport.Decompress(r.Header.Get("Content-Encoding"), r.Body, s.cfg.MaxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpexport.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		s.respond(w, status, errorResponse{Error: err.Error()})

		return
	}

	records, err := trace.DecodeRecords(body)
	if err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "decoding trace batch: " + err.Error()})

		return
	}

	in, err := s.submitter.Submit(r.Context(), records)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotAccepting) {
			s.respond(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})

			return
		}

		s.respond(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})

		return
	}

	s.log.WithFields(logrus.Fields{
		"traces":   len(records),
		"accepted": in.Accepted,
		"dropped":  in.Dropped,
	}).Debug("Ingested trace batch")

	s.respond(w, http.StatusAccepted, in)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	if s.health != nil {
		s.health.IngestRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Debug("Writing ingress response")
	}
}
