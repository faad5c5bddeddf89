package embeddings

import "context"

// Embedder is the interface for embedding providers.
type Embedder interface {
	// Embed generates an embedding for a single text string
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple text strings in a single request
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Health checks if the service is reachable
	Health(ctx context.Context) error
}
