// Package embedder provides the embedding providers that turn chunk text into
// dense vectors. Each backend (Ollama, OpenAI, Azure OpenAI, and a local
// hashing embedder) talks plain HTTP or runs in process; no SDK is required.
//
// Every provider reports a capability tag (provider, model, dimensions). The
// dimensionality of remote models is only known after the first successful
// call, so Capability reports zero dimensions until then; use Probe to force
// discovery.
package embedder

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

// probeText is embedded once by Probe to discover a model's dimensionality.
const probeText = "dimension probe"

// Embedder converts text into dense vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed converts a batch of texts into embeddings parallel to texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Capability returns the provider/model/dimensions tag of produced vectors.
	Capability() index.Capability
}

// Probe returns e's capability, calling the provider once if the
// dimensionality has not been observed yet.
func Probe(ctx context.Context, e Embedder) (index.Capability, error) {
	c := e.Capability()
	if c.Dimensions > 0 {
		return c, nil
	}
	if _, err := e.EmbedQuery(ctx, probeText); err != nil {
		return index.Capability{}, err
	}
	c = e.Capability()
	if c.Dimensions == 0 {
		return index.Capability{}, errkind.WrapProvider(c.Provider, fmt.Errorf("model %q returned an empty embedding", c.Model))
	}
	return c, nil
}

// dims tracks the observed dimensionality of a remote model.
type dims struct {
	n atomic.Int64
}

// observe records the length of vecs and fails if it disagrees with a
// configured or previously observed dimensionality.
func (d *dims) observe(provider string, vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) == 0 {
			return errkind.WrapProvider(provider, fmt.Errorf("embedding %d is empty", i))
		}
		if d.n.CompareAndSwap(0, int64(len(v))) {
			continue
		}
		if want := d.n.Load(); int64(len(v)) != want {
			return errkind.WrapProvider(provider, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), want))
		}
	}
	return nil
}

func (d *dims) get() int { return int(d.n.Load()) }

// embedOne is the EmbedQuery helper shared by batch-only backends.
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
