package completion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kotoba/internal/model"
)

// OpenAIImageGenerator implements ImageGenerator against the OpenAI images
// endpoint. Shares credentials with the chat adapter but keeps its own HTTP
// client since generations run much longer than completions.
type OpenAIImageGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIImageGenerator creates the generator. baseURL defaults to the
// public OpenAI endpoint; imageModel defaults to dall-e-3.
func NewOpenAIImageGenerator(apiKey, baseURL, imageModel string, logger *slog.Logger) *OpenAIImageGenerator {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if imageModel == "" {
		imageModel = "dall-e-3"
	}
	return &OpenAIImageGenerator{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   imageModel,
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		logger: logger,
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate renders one image from prompt. size is the WxH string from the
// tool arguments; empty lets the API pick its default.
func (g *OpenAIImageGenerator) Generate(ctx context.Context, prompt, size string) (model.File, error) {
	body, err := json.Marshal(imageRequest{
		Model:          g.model,
		Prompt:         prompt,
		N:              1,
		Size:           size,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return model.File{}, fmt.Errorf("completion: marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return model.File{}, fmt.Errorf("completion: create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return model.File{}, fmt.Errorf("completion: image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return model.File{}, fmt.Errorf("completion: image API status %d: %s", resp.StatusCode, raw)
	}

	var parsed imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.File{}, fmt.Errorf("completion: decode image response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return model.File{}, fmt.Errorf("completion: image API returned no data")
	}

	data, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return model.File{}, fmt.Errorf("completion: decode image payload: %w", err)
	}

	g.logger.Debug("image generated",
		"model", g.model,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return model.File{
		ID:        uuid.New(),
		Name:      "generated.png",
		Kind:      model.FileImage,
		MimeType:  "image/png",
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}, nil
}
