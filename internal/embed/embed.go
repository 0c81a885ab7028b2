// Package embed generates dense embeddings for chunk text and queries.
package embed

import "context"

// Embedder turns text into dense vectors. Implementations must return
// vectors in input order and of a fixed dimension.
type Embedder interface {
	// EmbedBatch embeds texts, preserving order. It fails the whole
	// batch on error; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int
}
