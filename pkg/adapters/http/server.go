// Package http exposes a read-only inspection surface over a StepStore: the
// step log, workflow status, folded state, Prometheus metrics, and a live
// event stream. Runs are never mutated through this surface; execution state
// changes only as the side effect of node executions.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sluicelabs/sluice/internal/logging"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/observability"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Server serves workflow inspection endpoints.
type Server struct {
	store    ports.StepStore
	stream   *observability.Stream
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithStream attaches a live event stream, served as SSE on /events.
func WithStream(stream *observability.Stream) Option {
	return func(s *Server) {
		s.stream = stream
	}
}

// WithMetrics serves the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates the HTTP handler for workflow inspection.
func NewHandler(store ports.StepStore, opts ...Option) http.Handler {
	s := &Server{
		store:  store,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Get("/workflows/{id}/steps", s.steps)
	r.Get("/workflows/{id}/status", s.status)
	r.Get("/workflows/{id}/state", s.state)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.stream != nil {
		r.Get("/events", s.events)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) steps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := s.store.Steps(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	s.writeJSON(w, records)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.store.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	values, err := s.store.State(r.Context(), id, ports.AllSupersteps)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	s.writeJSON(w, values)
}

// events streams engine events as SSE until the client disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.stream.Subscribe()
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				s.logger.Warn("failed to marshal event", "type", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, workflowID string, err error) {
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		http.Error(w, fmt.Sprintf("workflow %q not found", workflowID), http.StatusNotFound)
		return
	}
	s.logger.Error("store read failed", "workflow_id", workflowID, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
