package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/rag"
)

// defaultSearchK is the result count when a search request omits k.
const defaultSearchK = 4

// maxSearchK caps k so one request cannot ask for the whole index.
const maxSearchK = 100

// searchResponse is the JSON body returned by the search routes.
type searchResponse struct {
	Context string         `json:"context"`
	Query   string         `json:"query"`
	Results []rag.Document `json:"results"`
}

// parseSearch validates a searchRequest and applies defaults.
func parseSearch(w http.ResponseWriter, r *http.Request) (*searchRequest, error) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", errkind.ErrInput)
	}
	switch {
	case req.K < 0:
		return nil, fmt.Errorf("%w: k must be positive", errkind.ErrInput)
	case req.K == 0:
		req.K = defaultSearchK
	case req.K > maxSearchK:
		req.K = maxSearchK
	}
	return &req, nil
}

// handleSearch handles POST /api/contexts/{name}/search. The context's index
// is loaded on first use and stays resident for later searches.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearch(w, r)
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("invalid").Inc()
		writeErr(w, r, err)
		return
	}
	name, err := contexts.NormalizeName(r.PathValue("name"))
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("invalid").Inc()
		writeErr(w, r, err)
		return
	}
	hits, err := s.sessions.Search(r.Context(), name, req.Query, req.K, req.Threshold)
	s.writeSearch(w, r, name, req.Query, hits, err)
}

// writeSearch records the outcome and writes the hits or the error.
func (s *Server) writeSearch(w http.ResponseWriter, r *http.Request, name, query string, hits []index.Hit, err error) {
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues(string(errkind.Of(err))).Inc()
		writeErr(w, r, err)
		return
	}
	s.metrics.searchRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, searchResponse{Context: name, Query: query, Results: rag.FromHits(hits)})
}

// handleAsk handles POST /api/contexts/{name}/ask. It streams the answer
// using Server-Sent Events (SSE) so clients can render tokens as they
// arrive, then emits a "sources" event with the passages used and a final
// "done" event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.asker == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "no chat model configured")
		return
	}
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, string(errkind.Input), "question is required")
		return
	}
	name, err := contexts.NormalizeName(r.PathValue("name"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	meta, err := s.mgr.Metadata(name)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, string(errkind.Unknown), "streaming not supported")
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log := logging.FromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	s.metrics.askActiveStreams.Inc()
	defer s.metrics.askActiveStreams.Dec()
	start := time.Now()

	sw := &sseWriter{w: w, flusher: flusher}
	ans, err := s.asker.Ask(ctx, name, meta.Description, req.Question, sw)

	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warn("ask failed", slog.String("context", name), slog.String("kind", string(errkind.Of(err))), slog.Any("error", err))
		sw.event("error", strings.ReplaceAll(err.Error(), "\n", " "))
		return
	}

	sources, err := json.Marshal(ans.Sources)
	if err == nil {
		sw.event("sources", string(sources))
	}
	// Signal stream completion.
	sw.event("done", "[DONE]")
}
