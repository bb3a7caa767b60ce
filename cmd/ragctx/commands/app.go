package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/ragctx-go/internal/answer"
	"github.com/54b3r/ragctx-go/internal/config"
	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/embedder"
	"github.com/54b3r/ragctx-go/internal/ingestion"
	"github.com/54b3r/ragctx-go/internal/provider"
	"github.com/54b3r/ragctx-go/internal/rag"
	"github.com/54b3r/ragctx-go/internal/session"
	"github.com/54b3r/ragctx-go/internal/store"
)

// app bundles the components every command builds from the runtime config:
// the contexts manager, the embedder, the session registry, the indexing
// pipeline and the optional Qdrant mirror and history store.
type app struct {
	rt       *config.Runtime
	log      *slog.Logger
	mgr      *contexts.Manager
	emb      embedder.Embedder
	sessions *session.Registry
	pipeline *ingestion.Pipeline

	// mirror is nil unless QDRANT_HOST is set.
	mirror *rag.QdrantMirror
	// history is nil when RAGCTX_HISTORY_DB=disabled or the store failed to open.
	history *store.SQLiteStore
}

// newApp builds an app. metrics may be nil. The mirror and the history store
// are registered as observers so deletes and renames from any command reach
// them.
func newApp(log *slog.Logger, metrics *ingestion.Metrics) (*app, error) {
	rt := config.RuntimeFromEnv()

	mgr, err := contexts.Open(rt.DataDir, contexts.WithLogger(log))
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	c := emb.Capability()
	log.Debug("embedder initialised", slog.String("provider", c.Provider), slog.String("model", c.Model))

	a := &app{
		rt:       rt,
		log:      log,
		mgr:      mgr,
		emb:      emb,
		sessions: session.NewRegistry(mgr, emb, log),
	}

	if rt.QdrantHost != "" {
		m, err := rag.NewQdrantMirror(&rag.QdrantConfig{
			Host:   rt.QdrantHost,
			Port:   rt.QdrantPort,
			APIKey: rt.QdrantAPIKey,
			UseTLS: rt.QdrantTLS,
		}, log)
		if err != nil {
			log.Warn("qdrant: mirror unavailable, continuing without it", slog.Any("error", err))
		} else {
			a.mirror = m
			mgr.AddObserver(m)
			log.Debug("qdrant: mirror enabled", slog.String("host", rt.QdrantHost), slog.Int("port", rt.QdrantPort))
		}
	}

	a.openHistory()

	pcfg := &ingestion.Config{
		ChunkSize:    rt.ChunkSize,
		ChunkOverlap: rt.ChunkOverlap,
		Logger:       log,
		Metrics:      metrics,
	}
	if a.mirror != nil {
		pcfg.Mirror = a.mirror
	}
	a.pipeline, err = ingestion.NewPipeline(mgr, emb, pcfg)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// openHistory opens the Q&A history store. RAGCTX_HISTORY_DB overrides the
// default path (history.db next to the data directory). Set it to
// "disabled" to turn history off. Failures disable history with a warning.
func (a *app) openHistory() {
	if !a.rt.HistoryEnabled() {
		a.log.Debug("history: disabled via RAGCTX_HISTORY_DB=disabled")
		return
	}
	path := a.rt.HistoryDB
	if path == "" {
		var err error
		path, err = store.DefaultDBPath(a.rt.StateDir())
		if err != nil {
			a.log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return
		}
	}
	h, err := store.Open(path, a.log)
	if err != nil {
		a.log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return
	}
	a.history = h
	a.mgr.AddObserver(h)
	a.log.Debug("history: store opened", slog.String("path", path))
}

// answerChain builds the RAG answer chain over chatModel.
func (a *app) answerChain(chatModel model.BaseChatModel) (*answer.Chain, error) {
	format, err := answer.ParseFormat(a.rt.PassageFormat)
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewRetriever(a.sessions, a.rt.TopK, a.rt.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	cfg := &answer.Config{
		ChatModel:        chatModel,
		Retriever:        retriever,
		TopK:             a.rt.TopK,
		Format:           format,
		MaxContextTokens: a.rt.MaxContextTokens,
		SystemContext:    a.rt.SystemContext,
	}
	if a.history != nil {
		cfg.History = a.history
	}
	return answer.New(cfg)
}

// chatModel builds the chat model selected by MODEL_PROVIDER.
func chatModel(ctx context.Context) (model.BaseChatModel, string, error) {
	cfg := provider.ConfigFromEnv()
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	return m, string(cfg.Backend), nil
}

// close releases the mirror connection and the history database.
func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("history: close failed", slog.Any("error", err))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn("qdrant: close failed", slog.Any("error", err))
		}
	}
}
