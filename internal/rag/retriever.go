package rag

import (
	"context"
	"fmt"
)

// DefaultTopK is the number of passages retrieved when the caller passes 0.
const DefaultTopK = 8

// DefaultRetriever implements Retriever over a Searcher, normally the
// session registry, so retrieval shares the resident indexes of the server.
type DefaultRetriever struct {
	// searcher embeds the query and searches the context's index.
	searcher Searcher

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int

	// threshold, when set, drops hits farther than it.
	threshold *float32
}

// NewRetriever constructs a DefaultRetriever. defaultTopK sets the fallback
// result count when Retrieve is called with topK=0; threshold may be nil.
func NewRetriever(searcher Searcher, defaultTopK int, threshold *float32) (*DefaultRetriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &DefaultRetriever{searcher: searcher, defaultTopK: defaultTopK, threshold: threshold}, nil
}

// Retrieve returns the topK passages of contextName closest to query,
// nearest first. A context without an index yields no passages.
func (r *DefaultRetriever) Retrieve(ctx context.Context, contextName, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}
	hits, err := r.searcher.Search(ctx, contextName, query, topK, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("rag: search %q: %w", contextName, err)
	}
	return FromHits(hits), nil
}
