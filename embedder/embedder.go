// Package embedder defines the text-to-vector collaborator. Producing real
// embeddings is out of scope for this module; callers inject whatever
// implementation their deployment uses, and tests use embedder/mock.
package embedder

import "context"

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
