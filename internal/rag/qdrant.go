package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/ragctx-go/internal/index"
)

// CollectionPrefix prefixes the Qdrant collection of every mirrored context.
const CollectionPrefix = "ragctx_"

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantMirror replicates each context's records into its own Qdrant
// collection. The local index stays the source of truth; the mirror follows
// it through Upsert and the context lifecycle callbacks.
type QdrantMirror struct {
	client *qdrant.Client
	log    *slog.Logger

	// ensured caches collections known to exist.
	ensured sync.Map
}

// NewQdrantMirror connects to Qdrant. Collections are created lazily on the
// first upsert of each context.
func NewQdrantMirror(cfg *QdrantConfig, log *slog.Logger) (*QdrantMirror, error) {
	if log == nil {
		log = slog.Default()
	}
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantMirror{client: client, log: log}, nil
}

// Client returns the underlying gRPC client, for health checks.
func (m *QdrantMirror) Client() *qdrant.Client { return m.client }

// CollectionName returns the collection mirroring contextName.
func CollectionName(contextName string) string { return CollectionPrefix + contextName }

// ensureCollection creates the collection if it does not already exist.
func (m *QdrantMirror) ensureCollection(ctx context.Context, name string, dims int) error {
	if _, ok := m.ensured.Load(name); ok {
		return nil
	}
	exists, err := m.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Euclid,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
		}
	}
	m.ensured.Store(name, struct{}{})
	return nil
}

// Upsert writes records to contextName's collection. Record IDs are UUIDs
// and are reused as point IDs.
func (m *QdrantMirror) Upsert(ctx context.Context, contextName string, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}
	coll := CollectionName(contextName)
	if err := m.ensureCollection(ctx, coll, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := map[string]any{
			"content":      r.Text,
			"source":       r.Source,
			"chunk_index":  int64(r.ChunkIndex),
			"total_chunks": int64(r.TotalChunks),
		}
		for k, v := range r.Metadata {
			if _, taken := payload[k]; !taken {
				payload[k] = v
			}
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: coll,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %q failed: %w", coll, err)
	}
	return nil
}

// Drop deletes contextName's collection if it exists.
func (m *QdrantMirror) Drop(ctx context.Context, contextName string) error {
	coll := CollectionName(contextName)
	m.ensured.Delete(coll)
	exists, err := m.client.CollectionExists(ctx, coll)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := m.client.DeleteCollection(ctx, coll); err != nil {
		return fmt.Errorf("qdrant: delete collection %q failed: %w", coll, err)
	}
	return nil
}

// ContextCleared drops the mirrored collection.
func (m *QdrantMirror) ContextCleared(name string) { m.dropLogged(name, "clear") }

// ContextDeleted drops the mirrored collection.
func (m *QdrantMirror) ContextDeleted(name string) { m.dropLogged(name, "delete") }

// ContextRenamed drops the old collection. Qdrant cannot rename collections;
// the new name is mirrored again as files are indexed into it.
func (m *QdrantMirror) ContextRenamed(from, to string) {
	m.dropLogged(from, "rename")
	m.log.Info("qdrant: mirror restarts under new name",
		slog.String("from", from),
		slog.String("to", to),
	)
}

func (m *QdrantMirror) dropLogged(name, op string) {
	if err := m.Drop(context.Background(), name); err != nil {
		m.log.Warn("qdrant: dropping mirror failed",
			slog.String("context", name),
			slog.String("op", op),
			slog.Any("error", err),
		)
	}
}

// Close closes the underlying Qdrant gRPC connection.
func (m *QdrantMirror) Close() error {
	return m.client.Close()
}
