// Package logging provides a structured logger built on [log/slog].
// It is configured once at startup via [New] and distributed through
// context values using [WithLogger] / [FromContext].
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json for serve, text otherwise)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// Options selects the handler built by NewWith.
type Options struct {
	// Level is the minimum severity: debug, info, warn or error.
	Level string
	// Format is json or text. Empty selects DefaultFormat.
	Format string
	// DefaultFormat applies when Format is empty.
	DefaultFormat string
	// Writer receives log lines. Defaults to os.Stderr.
	Writer io.Writer
}

// New constructs a [*slog.Logger] from LOG_LEVEL and LOG_FORMAT, writing
// JSON to stderr unless LOG_FORMAT says otherwise.
func New() *slog.Logger {
	return NewWith(Options{
		Level:         os.Getenv("LOG_LEVEL"),
		Format:        os.Getenv("LOG_FORMAT"),
		DefaultFormat: "json",
	})
}

// NewCLI is New for interactive commands: text output by default, so log
// lines stay readable next to command output on the terminal.
func NewCLI() *slog.Logger {
	return NewWith(Options{
		Level:         os.Getenv("LOG_LEVEL"),
		Format:        os.Getenv("LOG_FORMAT"),
		DefaultFormat: "text",
	})
}

// NewWith constructs a logger from explicit options.
func NewWith(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	format := strings.ToLower(o.Format)
	if format == "" {
		format = strings.ToLower(o.DefaultFormat)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(o.Level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx.
// If no logger is present it returns [slog.Default] so callers never
// need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel converts a string to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
