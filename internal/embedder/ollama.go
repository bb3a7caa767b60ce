package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

// ProviderOllama is the capability provider id of OllamaEmbedder.
const ProviderOllama = "ollama"

// OllamaEmbedder implements Embedder using the Ollama /api/embed endpoint.
// No API key is required; Ollama runs locally.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "bge-m3").
	model string
	// client is the shared HTTP client.
	client *http.Client
	// dims is the observed vector length.
	dims dims
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the embedding model name.
	Model string
	// Dimensions pre-declares the vector length; 0 discovers it on first call.
	Dimensions int
	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	e := &OllamaEmbedder{
		host:   cfg.Host,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}
	e.dims.n.Store(int64(cfg.Dimensions))
	return e
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Capability returns the ollama/model tag.
func (e *OllamaEmbedder) Capability() index.Capability {
	return index.Capability{Provider: ProviderOllama, Model: e.model, Dimensions: e.dims.get()}
}

// EmbedQuery embeds one query string.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// Embed converts a batch of texts into their corresponding embeddings.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errkind.WrapProvider(ProviderOllama, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errkind.WrapProvider(ProviderOllama, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, errkind.WrapProvider(ProviderOllama, fmt.Errorf("%s", msg))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, errkind.WrapProvider(ProviderOllama, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}
	if err := e.dims.observe(ProviderOllama, result.Embeddings); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}
