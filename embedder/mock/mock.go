// Package mock provides a deterministic embedder for tests. Embeddings are
// derived from a text hash, so equal texts always embed identically and
// similarity queries behave repeatably without a model.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/ghostmem/ghostmem/embedder"
)

// Embedder generates hash-seeded pseudo-random unit vectors.
type Embedder struct {
	dimensions int
}

var _ embedder.Embedder = (*Embedder)(nil)

// New creates a mock embedder with a small dimension count suitable for
// tests.
func New() *Embedder {
	return &Embedder{dimensions: 64}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	embedding := make([]float32, m.dimensions)
	seed := h.Sum64()
	for i := 0; i < m.dimensions; i++ {
		// Linear congruential step, mapped into [-1, 1].
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
