package search

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 → gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "no scheme no host",
			rawURL:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestChunkFromPayload(t *testing.T) {
	chunkID := uuid.New()
	documentID := uuid.New()

	payload := qdrant.NewValueMap(map[string]any{
		"tenant_id":     uuid.New().String(),
		"collection_id": uuid.New().String(),
		"document_id":   documentID.String(),
		"title":         "Employee Handbook",
		"position":      int64(7),
		"text":          "Vacation days accrue monthly.",
		"url":           "https://intranet.example.com/handbook",
	})

	chunk, err := chunkFromPayload(chunkID, 0.83, payload)
	require.NoError(t, err)
	assert.Equal(t, chunkID, chunk.ID)
	assert.Equal(t, documentID, chunk.DocumentID)
	assert.Equal(t, "Employee Handbook", chunk.Title)
	assert.Equal(t, 7, chunk.Position)
	assert.Equal(t, "Vacation days accrue monthly.", chunk.Text)
	assert.InDelta(t, 0.83, chunk.Score, 1e-6)
	require.NotNil(t, chunk.URL)
	assert.Equal(t, "https://intranet.example.com/handbook", *chunk.URL)
}

func TestChunkFromPayload_NoURL(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		"document_id": uuid.New().String(),
		"title":       "Untitled",
		"position":    int64(0),
		"text":        "body",
	})

	chunk, err := chunkFromPayload(uuid.New(), 0.5, payload)
	require.NoError(t, err)
	assert.Nil(t, chunk.URL)
}

func TestChunkFromPayload_BadDocumentID(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		"document_id": "not-a-uuid",
		"text":        "body",
	})

	_, err := chunkFromPayload(uuid.New(), 0.5, payload)
	require.Error(t, err)
}

func TestQdrantHealthErr_StoreAndLoad(t *testing.T) {
	q := &QdrantIndex{}

	// Nothing stored yet: healthy.
	assert.NoError(t, q.loadHealthErr())

	wantErr := errors.New("connection refused")
	q.storeHealthErr(wantErr)
	assert.Equal(t, wantErr, q.loadHealthErr())

	// Recovery overwrites the stored error with nil.
	q.storeHealthErr(nil)
	assert.NoError(t, q.loadHealthErr())
}

func TestQdrantHealthErr_CacheTiming(t *testing.T) {
	q := &QdrantIndex{}
	q.storeHealthErr(errors.New("down"))
	q.healthAt.Store(time.Now().UnixNano())

	// Fresh cache entry is served without touching the client.
	err := q.Healthy(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestQdrantUpsert_EmptyPoints(t *testing.T) {
	q := &QdrantIndex{}
	assert.NoError(t, q.Upsert(t.Context(), nil))
}
