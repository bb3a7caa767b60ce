// Package rag turns index hits into the passages an answer is grounded on,
// and optionally mirrors each context's records into a Qdrant collection.
package rag

import (
	"context"

	"github.com/54b3r/ragctx-go/internal/index"
)

// Document is one retrieved passage.
type Document struct {
	// ID is the record ID of the chunk.
	ID string `json:"id"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Source is the file name the chunk came from.
	Source string `json:"file"`

	// ChunkIndex and TotalChunks locate the chunk within its file.
	ChunkIndex  int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`

	// Metadata holds the chunk's key-value pairs (file_type, header_1, ...).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Distance is the squared L2 distance to the query.
	Distance float32 `json:"distance"`

	// Relevance is 1 - Distance. It is negative for far-away chunks and is
	// only meaningful for ranking.
	Relevance float32 `json:"relevance"`
}

// Searcher runs a similarity search against one named context.
// *session.Registry satisfies it.
type Searcher interface {
	Search(ctx context.Context, contextName, query string, k int, threshold *float32) ([]index.Hit, error)
}

// Retriever is the high-level interface used by the answer chain to fetch
// the passages for a question. Implementations must be safe to call from
// multiple goroutines.
type Retriever interface {
	// Retrieve returns the topK passages of contextName closest to query.
	Retrieve(ctx context.Context, contextName, query string, topK int) ([]Document, error)
}

// FromHits converts index hits to documents, keeping their order.
func FromHits(hits []index.Hit) []Document {
	docs := make([]Document, len(hits))
	for i, h := range hits {
		docs[i] = Document{
			ID:          h.Record.ID,
			Content:     h.Record.Text,
			Source:      h.Record.Source,
			ChunkIndex:  h.Record.ChunkIndex,
			TotalChunks: h.Record.TotalChunks,
			Metadata:    h.Record.Metadata,
			Distance:    h.Distance,
			Relevance:   1 - h.Distance,
		}
	}
	return docs
}
