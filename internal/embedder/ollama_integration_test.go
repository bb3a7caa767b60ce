//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/ragctx-go/internal/index"
)

// TestOllamaEmbedder_Integration embeds a few passages with a running Ollama
// instance, indexes them and checks that a query ranks the related passage
// first.
//
// Prerequisites:
//
//	ollama pull bge-m3
//	ollama serve
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// Set OLLAMA_HOST when Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "bge-m3"
	}
	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := Probe(ctx, emb)
	if err != nil {
		t.Fatalf("Probe: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	if c.Provider != ProviderOllama || c.Model != model || c.Dimensions <= 0 {
		t.Fatalf("capability = %s", c)
	}

	passages := []string{
		"The boiler in building 169 is serviced every October by the caretaker.",
		"Quarterly revenue grew eight percent year over year.",
		"Visitors must park in the yard behind building B.",
	}
	vecs, err := emb.Embed(ctx, passages)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	records := make([]index.Record, len(passages))
	for i, p := range passages {
		if len(vecs[i]) != c.Dimensions {
			t.Fatalf("embedding[%d] has %d dimensions, capability says %d", i, len(vecs[i]), c.Dimensions)
		}
		records[i] = index.Record{ID: p[:12], Text: p, Source: "fixture.txt", Vector: vecs[i]}
	}
	store, err := index.Create(c, records)
	if err != nil {
		t.Fatalf("index.Create: %v", err)
	}

	q, err := emb.EmbedQuery(ctx, "when is the heating maintained?")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	hits, err := store.Search(q, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Record.Text != passages[0] {
		t.Errorf("nearest passage = %q", hits[0].Record.Text)
	}
	t.Logf("model=%s dim=%d distance=%.4f", model, c.Dimensions, hits[0].Distance)
}
