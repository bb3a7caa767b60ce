package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

func Test_Embedder_HashIsDeterministic(t *testing.T) {
	t.Parallel()
	e := NewHashEmbedder(32)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"alpha beta", "alpha beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("same text produced different vectors at %d", i)
		}
	}
	q, _ := e.EmbedQuery(ctx, "alpha beta")
	for i := range q {
		if q[i] != a[0][i] {
			t.Fatalf("EmbedQuery differs from Embed at %d", i)
		}
	}
	if got := e.Capability(); got != (index.Capability{Provider: "hash", Model: "fnv-bow", Dimensions: 32}) {
		t.Errorf("Capability = %v", got)
	}
}

func Test_Embedder_HashSharedWordsAreCloser(t *testing.T) {
	t.Parallel()
	e := NewHashEmbedder(0)
	vecs, _ := e.Embed(context.Background(), []string{
		"the river flows to the sea",
		"a river flows into the sea",
		"quarterly revenue grew eight percent",
	})
	near := sqDist(vecs[0], vecs[1])
	far := sqDist(vecs[0], vecs[2])
	if near >= far {
		t.Errorf("related texts not closer: near=%f far=%f", near, far)
	}
}

func Test_Embedder_HashHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func sqDist(a, b []float32) float32 {
	var d float32
	for i := range a {
		x := a[i] - b[i]
		d += x * x
	}
	return d
}

func Test_Embedder_OllamaObservesDimensions(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2, 0.3})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "bge-m3"})
	if d := e.Capability().Dimensions; d != 0 {
		t.Fatalf("dimensions before first call = %d, want 0", d)
	}
	c, err := Probe(context.Background(), e)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if c != (index.Capability{Provider: "ollama", Model: "bge-m3", Dimensions: 3}) {
		t.Errorf("Probe = %v", c)
	}
}

func Test_Embedder_OllamaErrorIsProviderKind(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"bge-m3\" not found, try pulling it first"}`)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "bge-m3"})
	_, err := e.Embed(context.Background(), []string{"hi"})
	if errkind.Of(err) != errkind.Provider {
		t.Fatalf("kind = %q, want provider (err=%v)", errkind.Of(err), err)
	}
}

func Test_Embedder_OpenAIBatchesAndReorders(t *testing.T) {
	t.Parallel()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp openaiEmbedResponse
		// Answer in reverse order to exercise index placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(req.Input[i])), 1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m", BatchSize: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 2 {
		t.Errorf("requests = %d, want 2", calls)
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d][0] = %v, want %v", i, vecs[i][0], want)
		}
	}
}

func Test_Embedder_NewFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantErr  bool
		provider string
		model    string
	}{
		{name: "default ollama", env: map[string]string{}, provider: "ollama", model: "bge-m3"},
		{name: "hash", env: map[string]string{"EMBEDDING_PROVIDER": "hash"}, provider: "hash", model: "fnv-bow"},
		{name: "openai missing key", env: map[string]string{"EMBEDDING_PROVIDER": "openai"}, wantErr: true},
		{name: "openai", env: map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "k"}, provider: "openai", model: "text-embedding-3-small"},
		{name: "azure missing endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, wantErr: true},
		{name: "unknown", env: map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, wantErr: true},
	}
	keys := []string{"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"EMBEDDING_DIMENSIONS", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range keys {
				t.Setenv(k, "")
				os.Unsetenv(k)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			e, err := NewFromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
			c := e.Capability()
			if c.Provider != tt.provider || c.Model != tt.model {
				t.Errorf("capability = %v, want %s/%s", c, tt.provider, tt.model)
			}
		})
	}
}

func Test_Embedder_ValidateWarnsOnChatModel(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_MODEL", "llama3.1:8b")
	if err := Validate(slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Errorf("Validate: %v", err)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "-3")
	if err := Validate(slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("expected error for negative dimensions")
	}
}
