package search

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/service/embedding"
)

type fakeIndex struct {
	chunks   []model.Chunk
	err      error
	gotScope Scope
	gotLimit int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, scope Scope, limit int) ([]model.Chunk, error) {
	f.gotScope = scope
	f.gotLimit = limit
	return f.chunks, f.err
}

func (f *fakeIndex) Healthy(_ context.Context) error { return nil }

func TestRetrieverSearch(t *testing.T) {
	tenantID := uuid.New()
	collectionID := uuid.New()
	want := []model.Chunk{
		{ID: uuid.New(), DocumentID: uuid.New(), Title: "Handbook", Text: "chunk one", Score: 0.91},
		{ID: uuid.New(), DocumentID: uuid.New(), Title: "Handbook", Text: "chunk two", Score: 0.77},
	}

	index := &fakeIndex{chunks: want}
	r := NewRetriever(embedding.NewNoopProvider(8), index, slog.New(slog.DiscardHandler))

	got, err := r.Search(context.Background(), "vacation policy", Scope{
		TenantID:      tenantID,
		CollectionIDs: []uuid.UUID{collectionID},
	}, 30)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, tenantID, index.gotScope.TenantID)
	assert.Equal(t, []uuid.UUID{collectionID}, index.gotScope.CollectionIDs)
	assert.Equal(t, 30, index.gotLimit)
}

func TestRetrieverSearch_IndexError(t *testing.T) {
	indexErr := errors.New("qdrant down")
	r := NewRetriever(embedding.NewNoopProvider(8), &fakeIndex{err: indexErr}, slog.New(slog.DiscardHandler))

	_, err := r.Search(context.Background(), "query", Scope{TenantID: uuid.New()}, 10)
	assert.ErrorIs(t, err, indexErr)
}
