// Package audit writes structured audit records for CLI invocations and for
// every change made to a context. Secret environment values are reduced to
// "set" or "unset" before they reach a log line.
package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Context operations recorded by LogContextChange.
const (
	OpCreate = "create"
	OpDelete = "delete"
	OpRename = "rename"
	OpClear  = "clear"
	OpIndex  = "index"
)

// loggedEnv is the ordered set of variables recorded at command start.
var loggedEnv = []string{
	"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"ARK_API_KEY", "ARK_MODEL",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS", "EMBEDDING_API_KEY",
	"RAGCTX_DATA_DIR", "RAGCTX_CHUNK_SIZE", "RAGCTX_CHUNK_OVERLAP", "RAGCTX_TOP_K",
	"RAGCTX_HISTORY_DB", "RAGCTX_API_KEY",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_API_KEY",
	"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
	"LOG_LEVEL", "LOG_FORMAT",
}

// secretSuffixes mark variables whose values are credentials.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN"}

// LogCommandStart records the start of a CLI command with its config file
// and the operational environment.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, 2+len(loggedEnv))
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	)
	for _, key := range loggedEnv {
		attrs = append(attrs, slog.String(key, SanitiseKey(key, os.Getenv(key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// LogContextChange records a mutation of a context. origin is "cli", "watch"
// or the remote address of an HTTP client.
func LogContextChange(log *slog.Logger, op, contextName, origin string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{
		slog.String("op", op),
		slog.String("context", contextName),
		slog.String("origin", origin),
	}, extra...)
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: context change", attrs...)
}

// SanitiseKey returns the loggable form of an environment value: "set" or
// "unset" for credentials, the value itself (or "unset") for everything else.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case isSecret(key):
		return "set"
	}
	return value
}

func isSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// displayPath shortens p to ~/... under the home directory, or "none" when
// no config file was loaded.
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if rel, err := filepath.Rel(home, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.Join("~", rel)
	}
	return p
}
