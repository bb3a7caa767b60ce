// Package ingestion implements the indexing pipeline. Given the chunks of one
// source file and a target context, it resolves that context's index (the
// resident one, the persisted one, or a new one), embeds the chunks, adds
// them, persists the index and only then updates the metadata registry.
// Directory indexing runs the same pipeline once per distinct file name.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/embedder"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

// MinContentLength is the aggregate trimmed text length below which a file
// is treated as having no extractable content.
const MinContentLength = 10

// Sentinel errors.
var (
	// ErrNoContent is returned when a file's text is shorter than MinContentLength.
	ErrNoContent = fmt.Errorf("ingestion: no extractable content: %w", errkind.ErrInput)
	// ErrEmptyInput is returned for an empty chunk set or file set.
	ErrEmptyInput = fmt.Errorf("ingestion: empty input: %w", errkind.ErrInput)
)

// Residency tracks which index is resident in memory for a context. It is
// implemented by *session.Session (which also moves its active pointer) and
// by *session.Registry (which does not).
type Residency interface {
	// Resident returns name's resident index if it was built under a
	// capability compatible with c, or nil.
	Resident(name string, c index.Capability) *index.Store
	// SetResident records store as name's resident index.
	SetResident(name string, store *index.Store)
	// DropResident discards name's resident index.
	DropResident(name string)
}

// Mirror receives every batch of records after it is committed. It is used
// to replicate contexts into an external vector database; failures are
// logged and never fail the pipeline.
type Mirror interface {
	Upsert(ctx context.Context, contextName string, records []index.Record) error
}

// Config holds the optional settings of a Pipeline.
type Config struct {
	// ChunkSize is the maximum characters per chunk. Defaults to 512.
	ChunkSize int
	// ChunkOverlap is the overlap between consecutive chunks. Defaults to 50.
	ChunkOverlap int
	// Logger receives pipeline events. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics instruments the pipeline. Nil disables metrics.
	Metrics *Metrics
	// Mirror, when set, receives committed records.
	Mirror Mirror
}

// Pipeline indexes files into contexts.
type Pipeline struct {
	mgr      *contexts.Manager
	emb      embedder.Embedder
	splitter *Splitter
	log      *slog.Logger
	metrics  *Metrics
	mirror   Mirror
	now      func() time.Time
}

// Result describes one successfully indexed file.
type Result struct {
	Context        string        `json:"context"`
	File           string        `json:"file"`
	Chunks         int           `json:"chunks"`
	TotalDocuments int           `json:"total_documents"`
	TotalFiles     int           `json:"total_files"`
	Created        bool          `json:"created"`
	Duration       time.Duration `json:"duration_ns"`
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(mgr *contexts.Manager, emb embedder.Embedder, cfg *Config) (*Pipeline, error) {
	if mgr == nil {
		return nil, fmt.Errorf("ingestion: contexts manager must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		mgr:      mgr,
		emb:      emb,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		log:      log,
		metrics:  cfg.Metrics,
		mirror:   cfg.Mirror,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// IndexFile embeds chunks of fileName and commits them to contextName's
// index. On success the persisted index and the metadata registry agree and
// res holds the updated index. Any failure before the persist leaves the
// context's durable state untouched.
func (p *Pipeline) IndexFile(ctx context.Context, res Residency, chunks []Chunk, fileName, contextName string) (*Result, error) {
	start := time.Now()
	result, err := p.indexFile(ctx, res, chunks, fileName, contextName)
	outcome := "ok"
	added := 0
	if err != nil {
		outcome = outcomeOf(err)
	} else {
		added = result.Chunks
		result.Duration = time.Since(start)
	}
	p.metrics.observe(outcome, time.Since(start).Seconds(), added)
	return result, err
}

func (p *Pipeline) indexFile(ctx context.Context, res Residency, chunks []Chunk, fileName, contextName string) (*Result, error) {
	name, err := contexts.NormalizeName(contextName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: file name is empty", ErrEmptyInput)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s has no chunks", ErrEmptyInput, fileName)
	}
	if n := contentLength(chunks); n < MinContentLength {
		return nil, fmt.Errorf("%w: %s has %d characters of text", ErrNoContent, fileName, n)
	}
	if !p.mgr.Exists(name) {
		return nil, fmt.Errorf("ingestion: %w: context %q", contexts.ErrNotFound, name)
	}

	unlock := p.mgr.Lock(name)
	defer unlock()
	// A delete may have won the lock since the check above.
	if !p.mgr.Exists(name) {
		return nil, fmt.Errorf("ingestion: %w: context %q", contexts.ErrNotFound, name)
	}

	// Resolve the index to extend: resident, persisted, or none yet.
	want := p.emb.Capability()
	store := res.Resident(name, want)
	if store == nil {
		loaded, err := index.Load(p.mgr.IndexDir(name))
		switch {
		case errors.Is(err, index.ErrIndexNotFound):
		case err != nil:
			return nil, fmt.Errorf("ingestion: load %q: %w", name, err)
		case !loaded.Capability().Compatible(want):
			return nil, fmt.Errorf("%w: context %q was indexed with %s, current embedder is %s; clear the context to re-index",
				index.ErrCapabilityMismatch, name, loaded.Capability(), want)
		default:
			store = loaded
		}
	}
	created := store == nil

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.emb.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embed %s: %w", fileName, err)
	}
	if len(vecs) != len(chunks) {
		return nil, errkind.WrapProvider(want.Provider, fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(chunks)))
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		meta := maps.Clone(c.Metadata)
		if meta == nil {
			meta = make(map[string]string)
		}
		meta["source"] = fileName
		total := c.Total
		if total == 0 {
			total = len(chunks)
		}
		records[i] = index.Record{
			ID:          uuid.NewString(),
			Vector:      vecs[i],
			Text:        c.Text,
			Source:      fileName,
			ChunkIndex:  c.Index,
			TotalChunks: total,
			Metadata:    meta,
		}
	}

	// The capability is re-read after embedding: remote providers only
	// report their dimensionality once they have answered.
	store, err = index.AddOrCreate(store, p.emb.Capability(), records)
	if err != nil {
		return nil, fmt.Errorf("ingestion: add %s to %q: %w", fileName, name, err)
	}

	files, err := p.knownFiles(name, store)
	if err != nil {
		res.DropResident(name)
		return nil, err
	}
	files = append(files, fileName)
	slices.Sort(files)
	files = slices.Compact(files)

	if err := store.Persist(p.mgr.IndexDir(name), files); err != nil {
		// Memory must not run ahead of disk: forget the extended index.
		res.DropResident(name)
		return nil, fmt.Errorf("ingestion: persist %q: %w", name, err)
	}
	res.SetResident(name, store)

	meta, err := p.mgr.UpdateMetadata(name, files, store.Len())
	if err != nil {
		// The index is committed; the next successful run rewrites metadata.
		return nil, fmt.Errorf("ingestion: update metadata of %q after persist: %w", name, err)
	}

	p.log.Info("ingestion: file indexed",
		slog.String("context", name),
		slog.String("file", fileName),
		slog.Int("chunks", len(records)),
		slog.Int("total_documents", meta.TotalDocuments),
		slog.Bool("created", created),
	)

	if p.mirror != nil {
		if err := p.mirror.Upsert(ctx, name, records); err != nil {
			p.log.Warn("ingestion: mirror upsert failed",
				slog.String("context", name),
				slog.String("file", fileName),
				slog.Any("error", err),
			)
		}
	}

	return &Result{
		Context:        name,
		File:           fileName,
		Chunks:         len(records),
		TotalDocuments: meta.TotalDocuments,
		TotalFiles:     len(meta.IndexedFiles),
		Created:        created,
	}, nil
}

// knownFiles returns the files already indexed into name: those recorded in
// the index itself plus those in the metadata registry.
func (p *Pipeline) knownFiles(name string, store *index.Store) ([]string, error) {
	files := store.Stats().IndexedFiles
	meta, err := p.mgr.Metadata(name)
	switch {
	case errors.Is(err, contexts.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("ingestion: read metadata of %q: %w", name, err)
	default:
		files = append(files, meta.IndexedFiles...)
	}
	return files, nil
}

// contentLength sums the trimmed rune length of every chunk.
func contentLength(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		n += utf8.RuneCountInString(strings.TrimSpace(c.Text))
	}
	return n
}

// outcomeOf maps an error to its metrics label.
func outcomeOf(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	if k := errkind.Of(err); k != errkind.Unknown {
		return string(k)
	}
	return "error"
}
