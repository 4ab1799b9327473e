// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/synapselabs/synapse/internal/analyzer"
	"github.com/synapselabs/synapse/internal/cache"
	"github.com/synapselabs/synapse/internal/history"
	"github.com/synapselabs/synapse/internal/llm"
	"github.com/synapselabs/synapse/internal/memory"
	"github.com/synapselabs/synapse/internal/models"
	"github.com/synapselabs/synapse/internal/queue"
)

// Server is an HTTP API server over the analyzer and request queue.
type Server struct {
	analyzer  *analyzer.Analyzer
	queue     *queue.Queue
	history   *history.Store
	caches    map[string]statser
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// statser lets the stats endpoint report on the heterogeneous caches.
type statser interface {
	Stats() cache.Stats
}

// NewServer creates a Server. history may be nil; the stats endpoint
// then omits usage analytics.
func NewServer(an *analyzer.Analyzer, q *queue.Queue, hist *history.Store, caches map[string]statser, logger *slog.Logger, authToken string) *Server {
	return &Server{
		analyzer:  an,
		queue:     q,
		history:   hist,
		caches:    caches,
		logger:    logger,
		authToken: authToken,
	}
}

// CacheSet adapts the three pipeline caches to the stats endpoint.
func CacheSet(snapshots *cache.Cache[*models.MemorySnapshot], texts *cache.Cache[string], results *cache.Cache[*models.AnalysisResult]) map[string]statser {
	return map[string]statser{
		"snapshots": snapshots,
		"texts":     texts,
		"results":   results,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check — no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/analyze", s.auth(s.handleAnalyze))
	mux.HandleFunc("POST /v1/analyses", s.auth(s.handleSubmit))
	mux.HandleFunc("GET /v1/analyses/{id}", s.auth(s.handleGetAnalysis))
	mux.HandleFunc("DELETE /v1/analyses/{id}", s.auth(s.handleCancelAnalysis))
	mux.HandleFunc("GET /v1/history", s.auth(s.handleHistory))
	mux.HandleFunc("GET /v1/stats", s.auth(s.handleStats))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeRequest is the body accepted by POST /v1/analyze and
// POST /v1/analyses.
type analyzeRequest struct {
	Ref        string   `json:"ref"`
	Depth      string   `json:"depth"`
	FocusAreas []string `json:"focus_areas"`
	Priority   string   `json:"priority"`
}

func (r analyzeRequest) options() models.AnalysisOptions {
	return models.AnalysisOptions{
		Depth:      r.Depth,
		FocusAreas: r.FocusAreas,
		Priority:   models.ParsePriority(r.Priority),
	}
}

// handleAnalyze runs an analysis synchronously and returns the result.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Ref == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "ref is required")
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), req.Ref, req.options())
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// submitResponse is returned by POST /v1/analyses.
type submitResponse struct {
	ID    string              `json:"id"`
	State models.RequestState `json:"state"`
}

// handleSubmit enqueues an asynchronous analysis request.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Ref == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "ref is required")
		return
	}

	opts := req.options()
	fp, err := s.analyzer.Fingerprint(req.Ref, opts)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	id, err := s.queue.Submit(&models.AnalysisRequest{
		Ref:         req.Ref,
		Fingerprint: fp,
		Options:     opts,
		Priority:    opts.Priority,
	})
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{ID: id, State: models.StateQueued})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := s.queue.Get(id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "analysis request not found")
			return
		}
		s.logger.Error("failed to get analysis request", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to get analysis request")
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

// cancelResponse is returned by DELETE /v1/analyses/{id}.
type cancelResponse struct {
	Cancelled bool                `json:"cancelled"`
	State     models.RequestState `json:"state"`
}

func (s *Server) handleCancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled, err := s.queue.Cancel(id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", "analysis request not found")
			return
		}
		s.logger.Error("failed to cancel analysis request", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to cancel analysis request")
		return
	}
	state, _ := s.queue.Status(id)
	s.writeJSON(w, http.StatusOK, cancelResponse{Cancelled: cancelled, State: state})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	entries, err := s.history.Entries(50)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// statsResponse is returned by GET /v1/stats.
type statsResponse struct {
	QueueDepth int                    `json:"queue_depth"`
	Caches     map[string]cache.Stats `json:"caches"`
	Usage      *history.Analytics     `json:"usage,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		QueueDepth: s.queue.Depth(),
		Caches:     map[string]cache.Stats{},
	}
	for name, c := range s.caches {
		resp.Caches[name] = c.Stats()
	}
	if s.history != nil {
		usage, err := s.history.Usage()
		if err != nil {
			s.logger.Warn("failed to read usage analytics", "error", err)
		} else {
			resp.Usage = usage
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

// writeAnalysisError maps pipeline errors onto HTTP statuses. Messages
// are already sanitized by the analyzer before they reach this layer.
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	info := analyzer.ErrorInfoFor(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrDataNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memory.ErrDataCorrupt), errors.Is(err, analyzer.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, analyzer.ErrAnalysisUnavailable),
		errors.Is(err, llm.ErrServiceUnavailable),
		errors.Is(err, llm.ErrTimeout),
		errors.Is(err, queue.ErrNotRunning):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("analysis request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": info.Message, "code": info.Code})
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
