package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragctx-go/internal/answer"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/ingestion"
	"github.com/54b3r/ragctx-go/internal/session"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single /ask stream (default: 5 minutes).
	AskTimeout time.Duration
	// MaxUploadBytes bounds a document upload (default: 32 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the components the handlers drive.
type Deps struct {
	// Manager owns contexts and their metadata.
	Manager *contexts.Manager
	// Sessions holds resident indexes and API sessions.
	Sessions *session.Registry
	// Pipeline indexes uploaded documents.
	Pipeline *ingestion.Pipeline
	// Answer, when set, enables POST /api/contexts/{name}/ask.
	Answer *answer.Chain
}

// asker is the interface handleAsk calls to stream an answer.
// *answer.Chain satisfies it; tests inject a fake.
type asker interface {
	Ask(ctx context.Context, contextName, description, question string, w io.Writer) (*answer.Answer, error)
}

// Server is the HTTP server that exposes the context manager.
type Server struct {
	// mgr owns context lifecycle and metadata.
	mgr *contexts.Manager
	// sessions resolves resident indexes for search and hosts API sessions.
	sessions *session.Registry
	// pipeline indexes uploaded documents.
	pipeline *ingestion.Pipeline
	// asker answers questions; nil disables the ask route.
	asker asker
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// createContextRequest is the JSON body for POST /api/contexts.
type createContextRequest struct {
	// Name is the context name; it is normalised before use.
	Name string `json:"name"`
	// Description is optional free text.
	Description string `json:"description"`
}

// renameRequest is the JSON body for POST /api/contexts/{name}/rename.
type renameRequest struct {
	// NewName is the target name.
	NewName string `json:"new_name"`
}

// documentRequest is the JSON body for POST /api/contexts/{name}/documents
// when the client sends already-extracted text.
type documentRequest struct {
	// FileName is the name the text is recorded under.
	FileName string `json:"file_name"`
	// Text is the document content.
	Text string `json:"text"`
}

// searchRequest is the JSON body for the search routes.
type searchRequest struct {
	// Query is the search text.
	Query string `json:"query"`
	// K is the number of results (default: 4).
	K int `json:"k"`
	// Threshold, when set, drops hits whose distance exceeds it.
	Threshold *float32 `json:"threshold,omitempty"`
}

// askRequest is the JSON body for POST /api/contexts/{name}/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// switchRequest is the JSON body for POST /api/sessions/{id}/switch.
type switchRequest struct {
	// Context is the context to activate.
	Context string `json:"context"`
}

// contextResponse is the JSON body for GET /api/contexts/{name}.
type contextResponse struct {
	*contexts.Metadata
	// HasIndex reports whether a persisted index exists.
	HasIndex bool `json:"has_index"`
}

// errorResponse is the JSON body of every API error.
type errorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`
	// Kind is the error kind, e.g. "not_found".
	Kind string `json:"kind"`
}
