package kotoba

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, it replaces the config-selected
// OpenAI/Ollama/noop provider. Uses []float32 (not pgvector.Vector) so
// external consumers don't inherit the pgvector dependency; New() wraps it
// in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
