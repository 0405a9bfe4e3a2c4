// Package search provides vector retrieval of knowledge chunks from an
// external search index, tenant-isolated at the filter level.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/service/embedding"
)

// Scope restricts a query to one tenant and optionally to specific
// knowledge collections. An empty CollectionIDs searches the whole tenant.
type Scope struct {
	TenantID      uuid.UUID
	CollectionIDs []uuid.UUID
}

// Index is the vector index a Retriever queries.
// Implementations must be safe for concurrent use.
type Index interface {
	// Query returns hydrated chunks matching the embedding within scope,
	// most similar first.
	Query(ctx context.Context, embedding []float32, scope Scope, limit int) ([]model.Chunk, error)

	// Healthy returns nil if the index is reachable, or an error describing
	// the problem.
	Healthy(ctx context.Context) error
}

// Retriever turns a text query into scored chunks: it embeds the query and
// runs a scoped vector search.
type Retriever struct {
	embedder embedding.Provider
	index    Index
	logger   *slog.Logger
}

// NewRetriever creates a Retriever over the given embedding provider and index.
func NewRetriever(embedder embedding.Provider, index Index, logger *slog.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Search embeds the query and returns the most similar chunks in scope.
func (r *Retriever) Search(ctx context.Context, query string, scope Scope, limit int) ([]model.Chunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	chunks, err := r.index.Query(ctx, vec.Slice(), scope, limit)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("search: retrieved chunks",
		"tenant_id", scope.TenantID, "collections", len(scope.CollectionIDs), "chunks", len(chunks))
	return chunks, nil
}
