package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		if calls != nil {
			calls.Add(1)
		}

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		embs := make([][]float32, len(req.Input))
		for i := range embs {
			vec := make([]float32, dims)
			for j := range vec {
				vec[j] = float32(j) * 0.001
			}
			embs[i] = vec
		}
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embs}))
	}))
}

func TestOllamaProvider(t *testing.T) {
	server := newOllamaServer(t, 1024, nil)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)

	t.Run("dimensions", func(t *testing.T) {
		assert.Equal(t, 1024, p.Dimensions())
	})

	t.Run("embed single", func(t *testing.T) {
		vec, err := p.Embed(context.Background(), "vacation policy")
		require.NoError(t, err)
		slice := vec.Slice()
		require.Len(t, slice, 1024)
		assert.InDelta(t, 0.0, slice[0], 1e-9)
		assert.InDelta(t, 0.1, slice[100], 1e-6)
	})

	t.Run("embed batch", func(t *testing.T) {
		vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		for _, vec := range vecs {
			assert.Len(t, vec.Slice(), 1024)
		}
	})

	t.Run("embed batch empty", func(t *testing.T) {
		vecs, err := p.EmbedBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, vecs)
	})
}

func TestOllamaProviderChunking(t *testing.T) {
	var calls atomic.Int64
	server := newOllamaServer(t, 8, &calls)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "nomic-embed-text", 8)

	texts := make([]string, ollamaBatchSize+5)
	for i := range texts {
		texts[i] = "chunk"
	}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, int64(2), calls.Load())
}

func TestOllamaProviderErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		assert.Error(t, err)
	})

	t.Run("count mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: nil})
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		assert.Error(t, err)
	})

	t.Run("empty embedding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{nil}})
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		assert.Error(t, err)
	})

	t.Run("invalid json response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		assert.Error(t, err)
	})
}
