package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kotoba/internal/model"
)

// OpenAIAdapter speaks the OpenAI chat-completions wire protocol, used by
// OpenAI itself and by Azure/compatible gateways via BaseURL.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIAdapter creates the adapter. baseURL defaults to the public
// OpenAI endpoint.
func NewOpenAIAdapter(apiKey, baseURL string, logger *slog.Logger) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiTool struct {
	Type     string                   `json:"type"`
	Function model.FunctionDefinition `json:"function"`
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Tools    []oaiTool    `json:"tools,omitempty"`
	Stream   bool         `json:"stream"`
}

// buildMessages flattens a Context into the chat wire shape: system prompt,
// alternating history pairs oldest first, then the current user turn (with
// image parts for vision models).
func buildMessages(mdl model.CompletionModel, pc *model.Context) []oaiMessage {
	msgs := make([]oaiMessage, 0, 2*len(pc.Messages)+2)
	if pc.Prompt != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: pc.Prompt})
	}
	for _, m := range pc.Messages {
		msgs = append(msgs, oaiMessage{Role: "user", Content: m.Question})
		msgs = append(msgs, oaiMessage{Role: "assistant", Content: m.Answer})
	}

	if mdl.Vision && len(pc.Images) > 0 {
		parts := []map[string]any{{"type": "text", "text": pc.Input}}
		for _, img := range pc.Images {
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", img.MimeType,
						base64.StdEncoding.EncodeToString(img.Data)),
				},
			})
		}
		msgs = append(msgs, oaiMessage{Role: "user", Content: parts})
	} else {
		msgs = append(msgs, oaiMessage{Role: "user", Content: pc.Input})
	}
	return msgs
}

func buildTools(pc *model.Context) []oaiTool {
	tools := make([]oaiTool, 0, len(pc.Functions))
	for _, f := range pc.Functions {
		tools = append(tools, oaiTool{Type: "function", Function: f})
	}
	return tools
}

func (a *OpenAIAdapter) post(ctx context.Context, mdl model.CompletionModel, pc *model.Context, stream bool) (*http.Response, error) {
	baseURL := a.baseURL
	if mdl.BaseURL != "" {
		baseURL = mdl.BaseURL
	}

	body, err := json.Marshal(oaiRequest{
		Model:    mdl.Name,
		Messages: buildMessages(mdl, pc),
		Tools:    buildTools(pc),
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, string(errBody))
	}
	return resp, nil
}

// Invoke performs a batch completion.
func (a *OpenAIAdapter) Invoke(ctx context.Context, mdl model.CompletionModel, pc *model.Context) (*model.CompletionResult, error) {
	resp, err := a.post(ctx, mdl, pc, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &model.CompletionResult{
		Text:       out.Choices[0].Message.Content,
		StopReason: out.Choices[0].FinishReason,
		Usage: model.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

// Stream performs a streaming completion, decoding the SSE response into
// fragments. The channel is closed when the stream ends, errors, or ctx is
// cancelled.
func (a *OpenAIAdapter) Stream(ctx context.Context, mdl model.CompletionModel, pc *model.Context) (<-chan Event, error) {
	resp, err := a.post(ctx, mdl, pc, true)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content   string `json:"content"`
						ToolCalls []struct {
							Index    int `json:"index"`
							Function struct {
								Name      string `json:"name"`
								Arguments string `json:"arguments"`
							} `json:"function"`
							ID string `json:"id"`
						} `json:"tool_calls"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				a.logger.Debug("openai: skipping undecodable stream chunk", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				if !emit(Event{Fragment: model.Fragment{Kind: model.FragmentText, Text: delta.Content}}) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				ev := Event{Fragment: model.Fragment{
					Kind: model.FragmentToolCall,
					ToolCall: &model.ToolCallDelta{
						Index:     tc.Index,
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}}
				if !emit(ev) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(Event{Err: fmt.Errorf("openai: read stream: %w", err)})
		}
	}()
	return out, nil
}
