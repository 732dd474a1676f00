package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/loom"
	"github.com/aretw0/loom/internal/logging"
	presentation "github.com/aretw0/loom/internal/presentation/graph"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/runner"
	"github.com/aretw0/loom/pkg/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies; inputs are sanitized further by the runner.
const maxBodyBytes = 1 << 20

// Engine is the part of loom.Engine the API drives.
type Engine interface {
	Workflows() ([]string, error)
	Workflow(name string) (*graph.Workflow, error)
	Run(ctx context.Context, name, sessionID string, inputs map[string]any) (*loom.Result, error)
	Resume(ctx context.Context, sessionID string, external map[string]any) (*loom.Result, error)
	Inspect(ctx context.Context, sessionID string) (*state.Persisted, error)
	ListSessions(ctx context.Context) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Server serves the API.
type Server struct {
	engine   Engine
	stream   *Stream
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStream serves /events from s. The stream must also be registered as an
// event sink of the engine.
func WithStream(s *Stream) Option {
	return func(srv *Server) { srv.stream = s }
}

// WithMetrics serves /metrics from g.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(srv *Server) { srv.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) { srv.logger = logger }
}

// NewServer creates a Server.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(enableCORS)

	r.Get("/healthz", s.health)
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.listWorkflows)
		r.Get("/{name}/graph", s.workflowGraph)
		r.Post("/{name}/runs", s.run)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{id}", s.getSession)
		r.Get("/{id}/graph", s.sessionGraph)
		r.Post("/{id}/resume", s.resume)
		r.Delete("/{id}", s.deleteSession)
	})
	if s.stream != nil {
		r.Get("/events", s.events)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// RunResponse is the body answered by run and resume.
type RunResponse struct {
	SessionID string                  `json:"session_id"`
	Status    state.RunStatus         `json:"status"`
	Outputs   map[string]any          `json:"outputs,omitempty"`
	Paused    []state.PausedExecution `json:"paused,omitempty"`
	TraceID   uuid.UUID               `json:"trace_id"`
	Error     string                  `json:"error,omitempty"`
}

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	ID        string          `json:"id"`
	Workflow  string          `json:"workflow,omitempty"`
	Status    state.RunStatus `json:"status,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type runRequest struct {
	SessionID string         `json:"session_id"`
	Inputs    map[string]any `json:"inputs"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	names, err := s.engine.Workflows()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) workflowGraph(w http.ResponseWriter, r *http.Request) {
	wf, err := s.engine.Workflow(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeMermaid(w, presentation.GenerateMermaid(wf, nil))
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Run(r.Context(), chi.URLParam(r, "name"), body.SessionID, body.Inputs)
	s.answer(w, res, err)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Resume(r.Context(), chi.URLParam(r, "id"), body.Inputs)
	s.answer(w, res, err)
}

// answer writes a run result. A result is always answered with 200, even when
// the run was rejected.
func (s *Server) answer(w http.ResponseWriter, res *loom.Result, err error) {
	if res == nil {
		s.fail(w, err)
		return
	}
	body := RunResponse{
		SessionID: res.SessionID,
		Status:    res.Status,
		Outputs:   res.Outputs,
		Paused:    res.Paused,
		TraceID:   res.TraceID,
	}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.ListSessions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		p, err := s.engine.Inspect(r.Context(), id)
		if err != nil {
			s.logger.Warn("skipping unreadable session", "session_id", id, "err", err)
			continue
		}
		out = append(out, SessionSummary{ID: id, Workflow: p.Run.WorkflowName, Status: p.Run.Status, UpdatedAt: p.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) sessionGraph(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	wf, err := s.engine.Workflow(p.Run.WorkflowName)
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := state.Restore(p)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeMermaid(w, presentation.GenerateMermaid(wf, presentation.OverlayFromState(wf, st)))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	trace := uuid.Nil
	if raw := r.URL.Query().Get("trace_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid trace_id: %w", err))
			return
		}
		trace = id
	}

	events, cancel := s.stream.Subscribe(trace)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn("dropping unserializable event", "event", e.Name, "err", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Name, data)
			flusher.Flush()
		}
	}
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case loom.NotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, runner.ErrNotPaused), errors.Is(err, loom.ErrSessionInUse):
		status = http.StatusConflict
	case errors.Is(err, runner.ErrInputTooLarge), errors.Is(err, runner.ErrInvalidUTF8):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeError(w, status, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeMermaid(w http.ResponseWriter, diagram string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, diagram)
}
