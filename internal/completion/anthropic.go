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

const anthropicVersion = "2023-06-01"

// anthropicMaxTokens caps the response length requested from the API; the
// messages endpoint requires an explicit value.
const anthropicMaxTokens = 4096

// AnthropicAdapter speaks the Anthropic messages wire protocol.
type AnthropicAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicAdapter creates the adapter. baseURL defaults to the public
// Anthropic endpoint.
func NewAnthropicAdapter(apiKey, baseURL string, logger *slog.Logger) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicAdapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []oaiMessage    `json:"messages"`
	Tools     []anthropicTool `json:"tools,omitempty"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream,omitempty"`
}

// buildAnthropicMessages mirrors buildMessages but keeps the system prompt
// out of the turn list (it travels as a top-level field) and uses the
// Anthropic image source shape.
func buildAnthropicMessages(mdl model.CompletionModel, pc *model.Context) []oaiMessage {
	msgs := make([]oaiMessage, 0, 2*len(pc.Messages)+1)
	for _, m := range pc.Messages {
		msgs = append(msgs, oaiMessage{Role: "user", Content: m.Question})
		msgs = append(msgs, oaiMessage{Role: "assistant", Content: m.Answer})
	}

	if mdl.Vision && len(pc.Images) > 0 {
		parts := []map[string]any{}
		for _, img := range pc.Images {
			parts = append(parts, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": img.MimeType,
					"data":       base64.StdEncoding.EncodeToString(img.Data),
				},
			})
		}
		parts = append(parts, map[string]any{"type": "text", "text": pc.Input})
		msgs = append(msgs, oaiMessage{Role: "user", Content: parts})
	} else {
		msgs = append(msgs, oaiMessage{Role: "user", Content: pc.Input})
	}
	return msgs
}

func buildAnthropicTools(pc *model.Context) []anthropicTool {
	tools := make([]anthropicTool, 0, len(pc.Functions))
	for _, f := range pc.Functions {
		tools = append(tools, anthropicTool{
			Name:        f.Name,
			Description: f.Description,
			InputSchema: f.Parameters,
		})
	}
	return tools
}

func (a *AnthropicAdapter) post(ctx context.Context, mdl model.CompletionModel, pc *model.Context, stream bool) (*http.Response, error) {
	baseURL := a.baseURL
	if mdl.BaseURL != "" {
		baseURL = mdl.BaseURL
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     mdl.Name,
		System:    pc.Prompt,
		Messages:  buildAnthropicMessages(mdl, pc),
		Tools:     buildAnthropicTools(pc),
		MaxTokens: anthropicMaxTokens,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(errBody))
	}
	return resp, nil
}

// Invoke performs a batch completion.
func (a *AnthropicAdapter) Invoke(ctx context.Context, mdl model.CompletionModel, pc *model.Context) (*model.CompletionResult, error) {
	resp, err := a.post(ctx, mdl, pc, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &model.CompletionResult{
		Text:       sb.String(),
		StopReason: out.StopReason,
		Usage: model.TokenUsage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

// Stream performs a streaming completion. Anthropic SSE events map onto the
// fragment kinds: text_delta becomes a text fragment, tool_use block starts
// carry the tool name, and input_json_delta carries argument pieces.
func (a *AnthropicAdapter) Stream(ctx context.Context, mdl model.CompletionModel, pc *model.Context) (<-chan Event, error) {
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

			var ev struct {
				Type  string `json:"type"`
				Index int    `json:"index"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
				ContentBlock struct {
					Type string `json:"type"`
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
			}
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				a.logger.Debug("anthropic: skipping undecodable stream event", "error", err)
				continue
			}

			switch ev.Type {
			case "content_block_start":
				if ev.ContentBlock.Type == "tool_use" {
					ok := emit(Event{Fragment: model.Fragment{
						Kind: model.FragmentToolCall,
						ToolCall: &model.ToolCallDelta{
							Index: ev.Index,
							ID:    ev.ContentBlock.ID,
							Name:  ev.ContentBlock.Name,
						},
					}})
					if !ok {
						return
					}
				}
			case "content_block_delta":
				switch ev.Delta.Type {
				case "text_delta":
					if ev.Delta.Text != "" {
						if !emit(Event{Fragment: model.Fragment{Kind: model.FragmentText, Text: ev.Delta.Text}}) {
							return
						}
					}
				case "input_json_delta":
					if ev.Delta.PartialJSON != "" {
						ok := emit(Event{Fragment: model.Fragment{
							Kind:     model.FragmentToolCall,
							ToolCall: &model.ToolCallDelta{Index: ev.Index, Arguments: ev.Delta.PartialJSON},
						}})
						if !ok {
							return
						}
					}
				}
			case "message_stop":
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(Event{Err: fmt.Errorf("anthropic: read stream: %w", err)})
		}
	}()
	return out, nil
}
