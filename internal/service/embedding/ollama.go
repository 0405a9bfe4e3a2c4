package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"
)

// ollamaBatchSize caps how many texts go into one /api/embed call. Very
// large inputs make Ollama hold all activations at once; chunking keeps
// memory on a single local GPU bounded.
const ollamaBatchSize = 32

// OllamaProvider generates embeddings using a local Ollama server, for
// on-premises tenants whose knowledge text must not leave their network.
// It speaks the /api/embed endpoint, which accepts batched input natively.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewOllamaProvider creates a provider that calls Ollama's embedding API.
// Model should be an embedding model like "mxbai-embed-large" or
// "nomic-embed-text". Dimensions must match the model's native output size
// (e.g. 1024 for mxbai-embed-large).
func NewOllamaProvider(baseURL, model string, dimensions int) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimensions returns the model's native vector size.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates a single embedding vector from text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting the input
// into fixed-size chunks so a large document ingest cannot stall the model.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([]pgvector.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaBatchSize {
		end := min(start+ollamaBatchSize, len(texts))
		batch, err := p.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("ollama: batch at offset %d: %w", start, err)
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

func (p *OllamaProvider) embed(ctx context.Context, input []string) ([]pgvector.Vector, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(result.Embeddings) != len(input) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(result.Embeddings), len(input))
	}

	vecs := make([]pgvector.Vector, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("ollama: empty embedding at index %d", i)
		}
		vecs[i] = pgvector.NewVector(emb)
	}
	return vecs, nil
}
