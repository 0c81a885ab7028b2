package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// Fake is a deterministic Embedder for tests and dry runs. Identical
// texts map to identical unit vectors.
type Fake struct {
	Dimension int
}

// Compile-time interface check.
var _ Embedder = (*Fake)(nil)

// NewFake creates a fake embedder with the given dimension.
func NewFake(dimension int) *Fake {
	return &Fake{Dimension: dimension}
}

// EmbedBatch returns one deterministic vector per text.
func (f *Fake) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vector(text)
	}
	return vectors, nil
}

// EmbedQuery returns the deterministic vector for text.
func (f *Fake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

// Dimensions returns the embedding dimension.
func (f *Fake) Dimensions() int {
	return f.Dimension
}

func (f *Fake) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, f.Dimension)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed>>32)) / float32(math.MaxInt32)
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
