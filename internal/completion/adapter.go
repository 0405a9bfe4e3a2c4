package completion

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/search"
)

// Event is one element of a streaming completion. A terminal transport
// failure is delivered as the final event with Err set; the channel is
// closed afterwards either way.
type Event struct {
	Fragment model.Fragment
	Err      error
}

// Adapter invokes one model family's wire protocol. The set of adapters is
// closed: selection is an exhaustive switch over model.ModelFamily.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Invoke performs a batch completion.
	Invoke(ctx context.Context, mdl model.CompletionModel, pc *model.Context) (*model.CompletionResult, error)

	// Stream performs a streaming completion. The returned channel is
	// forward-only, single-consumer, and closed when the stream ends or ctx
	// is cancelled. Tool-call fragments carry incrementally arriving
	// arguments that are not valid JSON until fully accumulated.
	Stream(ctx context.Context, mdl model.CompletionModel, pc *model.Context) (<-chan Event, error)
}

// Retriever supplies relevance-descending knowledge chunks for a query.
// Satisfied by search.Retriever; declared here so the completion service
// depends only on what it consumes.
type Retriever interface {
	Search(ctx context.Context, query string, scope SearchScope, limit int) ([]model.Chunk, error)
}

// SearchScope bounds a retrieval query to a tenant and a set of collections.
type SearchScope = search.Scope

// HistoryStore returns the recent suffix of a conversation in chronological
// order (oldest first).
type HistoryStore interface {
	RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error)
}

// ImageGenerator is the side-effecting collaborator dispatched at most once
// per stream when the model emits a complete generate_image tool call.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, size string) (model.File, error)
}
