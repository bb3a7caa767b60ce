package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/54b3r/ragctx-go/internal/index"
)

// ProviderHash is the capability provider id of HashEmbedder.
const ProviderHash = "hash"

// hashModel names the only HashEmbedder model.
const hashModel = "fnv-bow"

// defaultHashDimensions is used when HashConfig.Dimensions is unset.
const defaultHashDimensions = 256

// HashEmbedder is a deterministic, offline embedder. Each lower-cased word is
// hashed into one of Dimensions buckets and the counts are L2-normalised, so
// texts that share words land close together. It is meant for tests, demos
// and air-gapped machines, not for semantic quality.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of length
// dimensions (256 when dimensions <= 0).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Capability returns the hash/fnv-bow tag.
func (e *HashEmbedder) Capability() index.Capability {
	return index.Capability{Provider: ProviderHash, Model: hashModel, Dimensions: e.dimensions}
}

// Embed embeds every text. It only fails when ctx is done.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds one query string.
func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dimensions)]++
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}
