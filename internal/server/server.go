// Package server implements the HTTP server that exposes the context manager
// via a REST API: context lifecycle, document indexing, similarity search and
// streamed answers over Server-Sent Events.
// The server is started by the `ragctx serve` CLI command.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragctx-go/internal/logging"
)

// New constructs a Server from the provided components and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("server: contexts manager must not be nil")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("server: session registry must not be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		mgr:      deps.Manager,
		sessions: deps.Sessions,
		pipeline: deps.Pipeline,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}
	if deps.Answer != nil {
		s.asker = deps.Answer
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.rejected = s.metrics.rateLimitedTotal
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the handler tree. Probes and /metrics are public; every other
// /api route is authenticated, and the expensive ones are rate limited.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protected := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, h) }
	limited := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	mux.Handle("GET /api/stats", protected(s.handleStats))
	mux.Handle("GET /api/contexts", protected(s.handleListContexts))
	mux.Handle("POST /api/contexts", protected(s.handleCreateContext))
	mux.Handle("GET /api/contexts/{name}", protected(s.handleGetContext))
	mux.Handle("DELETE /api/contexts/{name}", protected(s.handleDeleteContext))
	mux.Handle("POST /api/contexts/{name}/rename", protected(s.handleRenameContext))
	mux.Handle("POST /api/contexts/{name}/clear", protected(s.handleClearContext))
	mux.Handle("POST /api/contexts/{name}/documents", limited(s.handleAddDocument))
	mux.Handle("POST /api/contexts/{name}/search", limited(s.handleSearch))
	mux.Handle("POST /api/contexts/{name}/ask", limited(s.handleAsk))

	mux.Handle("POST /api/sessions", protected(s.handleCreateSession))
	mux.Handle("GET /api/sessions/{id}", protected(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", protected(s.handleCloseSession))
	mux.Handle("POST /api/sessions/{id}/switch", protected(s.handleSwitchSession))
	mux.Handle("POST /api/sessions/{id}/search", limited(s.handleSessionSearch))

	return requestLogger(s.log, s.instrument(mux))
}

// Handler returns the server's root handler. Used by tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	defer s.stopRL()

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// event writes a named SSE event with a single data line.
func (s *sseWriter) event(name, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}
