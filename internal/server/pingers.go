package server

import (
	"context"
	"fmt"
	"os"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/ragctx-go/internal/embedder"
)

// EmbedderPinger probes the embedding provider. Once the provider's
// dimensionality is known the probe is free; before that it costs a single
// embedding call, which every later index or search needs anyway.
type EmbedderPinger struct {
	// emb is the embedder to probe.
	emb embedder.Embedder
}

// NewEmbedderPinger constructs an EmbedderPinger for emb.
func NewEmbedderPinger(emb embedder.Embedder) *EmbedderPinger {
	return &EmbedderPinger{emb: emb}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping resolves the embedder's capability.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	c, err := embedder.Probe(ctx, p.emb)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.emb.Capability().Provider, err)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%s reported no dimensions", c)
	}
	return nil
}

// DataDirPinger checks that the data directory exists and is writable.
type DataDirPinger struct {
	// dir is the contexts data root.
	dir string
}

// NewDataDirPinger constructs a DataDirPinger for dir.
func NewDataDirPinger(dir string) *DataDirPinger {
	return &DataDirPinger{dir: dir}
}

// Name returns the dependency label used in readiness responses.
func (p *DataDirPinger) Name() string { return "data_dir" }

// Ping creates and removes a temporary file in the data directory.
func (p *DataDirPinger) Ping(_ context.Context) error {
	f, err := os.CreateTemp(p.dir, ".ready-*")
	if err != nil {
		return fmt.Errorf("data dir %s not writable: %w", p.dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It is registered only when the Qdrant mirror is enabled.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
