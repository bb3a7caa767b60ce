package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Runtime holds the ragctx settings that are not owned by a provider
// package. It is read from the environment after Load has applied the file.
type Runtime struct {
	// DataDir holds one subdirectory per context. RAGCTX_DATA_DIR,
	// default ~/.ragctx/contexts.
	DataDir string
	// ChunkSize and ChunkOverlap configure the splitter. RAGCTX_CHUNK_SIZE
	// (default 512) and RAGCTX_CHUNK_OVERLAP (default 50).
	ChunkSize    int
	ChunkOverlap int
	// TopK is the default result count. RAGCTX_TOP_K, default 8.
	TopK int
	// ScoreThreshold drops hits farther than it. RAGCTX_SCORE_THRESHOLD,
	// nil when unset.
	ScoreThreshold *float32
	// SystemContext describes documents in the answer prompt. RAGCTX_SYSTEM_CONTEXT.
	SystemContext string
	// PassageFormat is yaml or json. RAGCTX_PASSAGE_FORMAT, default yaml.
	PassageFormat string
	// MaxContextTokens is the prompt budget. RAGCTX_MAX_CONTEXT_TOKENS, default 6000.
	MaxContextTokens int
	// HistoryDB is the SQLite path or "disabled". RAGCTX_HISTORY_DB; empty
	// selects history.db next to the data directory.
	HistoryDB string
	// Qdrant* configure the mirror, enabled when QdrantHost is set.
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool
	// Host and Port are the HTTP bind address. RAGCTX_HOST (default
	// 127.0.0.1) and RAGCTX_PORT (default 8080).
	Host string
	Port int
	// APIKey enables Bearer auth on the HTTP API. RAGCTX_API_KEY.
	APIKey string
}

// RuntimeFromEnv reads Runtime from environment variables.
func RuntimeFromEnv() *Runtime {
	dataDir := os.Getenv("RAGCTX_DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	r := &Runtime{
		DataDir:          dataDir,
		ChunkSize:        envInt("RAGCTX_CHUNK_SIZE", 512),
		ChunkOverlap:     envInt("RAGCTX_CHUNK_OVERLAP", 50),
		TopK:             envInt("RAGCTX_TOP_K", 8),
		SystemContext:    os.Getenv("RAGCTX_SYSTEM_CONTEXT"),
		PassageFormat:    envOr("RAGCTX_PASSAGE_FORMAT", "yaml"),
		MaxContextTokens: envInt("RAGCTX_MAX_CONTEXT_TOKENS", 6000),
		HistoryDB:        os.Getenv("RAGCTX_HISTORY_DB"),
		QdrantHost:       os.Getenv("QDRANT_HOST"),
		QdrantPort:       envInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        os.Getenv("QDRANT_TLS") == "true",
		Host:             envOr("RAGCTX_HOST", "127.0.0.1"),
		Port:             envInt("RAGCTX_PORT", 8080),
		APIKey:           os.Getenv("RAGCTX_API_KEY"),
	}
	if v := os.Getenv("RAGCTX_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			t := float32(f)
			r.ScoreThreshold = &t
		}
	}
	return r
}

// HistoryEnabled reports whether Q&A history should be persisted.
func (r *Runtime) HistoryEnabled() bool {
	return r.HistoryDB != "disabled"
}

// StateDir is the directory that holds the data directory. The default
// history database lives there.
func (r *Runtime) StateDir() string {
	return filepath.Dir(filepath.Clean(r.DataDir))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ragctx", "contexts")
	}
	return filepath.Join(home, ".ragctx", "contexts")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
