// Package completion binds a model-family adapter, delegates context
// assembly to the prompt builder, and handles the tool-call side channel
// embedded in streaming responses.
//
// Streaming responses are a single-pass, forward-only sequence of fragments.
// Tool-call fragments are accumulated (name plus incrementally arriving
// arguments) until a complete, valid JSON argument object is observed; at
// that point exactly one side-effecting action is dispatched, never more
// than once per stream. Text fragments pass through unmodified before and
// after dispatch; the two channels are independent.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kotoba/internal/authz"
	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/prompt"
	"github.com/ashita-ai/kotoba/internal/telemetry"
)

// ErrUnknownModelFamily indicates a deployment misconfiguration: a
// completion model references a family no adapter is registered for.
// Fatal for the request, never retried.
var ErrUnknownModelFamily = errors.New("completion: unknown model family")

// generateImageTool is the tool name whose completed call dispatches the
// image generation side effect.
const generateImageTool = "generate_image"

// defaultSearchLimit caps how many chunks one retrieval returns. The token
// budget prunes further; this bounds the search round-trip.
const defaultSearchLimit = 30

// Request is one completion invocation.
type Request struct {
	User      *model.User
	Space     *model.Space
	Assistant *model.Assistant
	Model     model.CompletionModel
	SessionID uuid.UUID
	// Input is the raw user question.
	Input string
	// Files are this turn's attachments.
	Files []model.File
	// Transcripts are audio transcription fragments.
	Transcripts []string
	// CollectionIDs scope knowledge retrieval; empty disables retrieval.
	CollectionIDs []uuid.UUID
	// WebResults are passages from the web search collaborator, if any.
	WebResults []model.Chunk
	// Version selects the prompt protocol dialect.
	Version model.ProtocolVersion
	// UseImageGeneration exposes the generate_image tool to the model.
	UseImageGeneration bool
	// HistoryLimit bounds how many prior turns are fetched before windowing.
	HistoryLimit int
}

// Service orchestrates authorization, retrieval, context assembly and model
// invocation. Safe for concurrent use.
type Service struct {
	openai    Adapter
	anthropic Adapter
	builder   *prompt.Builder
	retriever Retriever
	history   HistoryStore
	images    ImageGenerator
	logger    *slog.Logger

	completions metric.Int64Counter
	tokensUsed  metric.Int64Counter
}

// NewService wires a completion Service. retriever, history and images may
// be nil when the deployment lacks the corresponding collaborator; the
// matching feature degrades to off.
func NewService(openai, anthropic Adapter, builder *prompt.Builder, retriever Retriever,
	history HistoryStore, images ImageGenerator, logger *slog.Logger) *Service {

	meter := telemetry.Meter("kotoba/completion")
	completions, _ := meter.Int64Counter("kotoba.completion.requests")
	tokensUsed, _ := meter.Int64Counter("kotoba.completion.tokens")

	return &Service{
		openai:      openai,
		anthropic:   anthropic,
		builder:     builder,
		retriever:   retriever,
		history:     history,
		images:      images,
		logger:      logger,
		completions: completions,
		tokensUsed:  tokensUsed,
	}
}

// adapterFor selects the wire adapter for a model family. The family set is
// sealed; anything else is a configuration error.
func (s *Service) adapterFor(family model.ModelFamily) (Adapter, error) {
	switch family {
	case model.FamilyOpenAI:
		return s.openai, nil
	case model.FamilyAnthropic:
		return s.anthropic, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelFamily, family)
	}
}

// buildContext authorizes the request, gathers history and chunks, and
// assembles the token-bounded context.
func (s *Service) buildContext(ctx context.Context, req Request) (*model.Context, error) {
	actor := authz.NewActor(req.User, req.Space)
	if err := actor.Require(model.ActionRead, model.ResourceAssistant, req.Assistant); err != nil {
		return nil, err
	}

	var messages []model.Message
	if s.history != nil && req.SessionID != uuid.Nil {
		limit := req.HistoryLimit
		if limit <= 0 {
			limit = 20
		}
		var err error
		messages, err = s.history.RecentMessages(ctx, req.SessionID, limit)
		if err != nil {
			return nil, fmt.Errorf("completion: load history: %w", err)
		}
	}

	var chunks []model.Chunk
	if s.retriever != nil && len(req.CollectionIDs) > 0 {
		var err error
		chunks, err = s.retriever.Search(ctx, req.Input, SearchScope{
			TenantID:      req.User.TenantID,
			CollectionIDs: req.CollectionIDs,
		}, defaultSearchLimit)
		if err != nil {
			return nil, fmt.Errorf("completion: retrieve chunks: %w", err)
		}
	}

	params := prompt.BuildParams{
		Input:       req.Input,
		MaxTokens:   req.Model.TokenLimit,
		Files:       req.Files,
		Transcripts: req.Transcripts,
		Prompt:      req.Assistant.Prompt,
		WebResults:  req.WebResults,
		Chunks:      chunks,
		Messages:    messages,
		Version:     req.Version,
	}
	if req.UseImageGeneration && s.images != nil {
		params.UseFunctions = true
		params.Functions = []model.FunctionDefinition{{
			Name:        generateImageTool,
			Description: "Generate an image from a text prompt.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prompt": map[string]any{"type": "string"},
					"size":   map[string]any{"type": "string"},
				},
				"required": []string{"prompt"},
			},
		}}
	}

	return s.builder.Build(params)
}

// GetResponse performs a batch completion.
func (s *Service) GetResponse(ctx context.Context, req Request) (*model.CompletionResult, error) {
	adapter, err := s.adapterFor(req.Model.Family)
	if err != nil {
		return nil, err
	}
	pc, err := s.buildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Invoke(ctx, req.Model, pc)
	if err != nil {
		return nil, fmt.Errorf("completion: invoke %s: %w", req.Model.Name, err)
	}
	s.record(ctx, req.Model, result.Usage)
	return result, nil
}

// StreamResponse performs a streaming completion. The returned channel is
// single-consumer and closed at end of stream; cancellation of ctx cancels
// the underlying model call and discards accumulated tool-call state.
func (s *Service) StreamResponse(ctx context.Context, req Request) (<-chan Event, error) {
	adapter, err := s.adapterFor(req.Model.Family)
	if err != nil {
		return nil, err
	}
	pc, err := s.buildContext(ctx, req)
	if err != nil {
		return nil, err
	}

	upstream, err := adapter.Stream(ctx, req.Model, pc)
	if err != nil {
		return nil, fmt.Errorf("completion: stream %s: %w", req.Model.Name, err)
	}

	s.completions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", req.Model.Name),
		attribute.String("family", string(req.Model.Family)),
	))

	out := make(chan Event)
	go s.pipeStream(ctx, req, upstream, out)
	return out, nil
}

// toolAccumulator gathers one tool call's incrementally arriving pieces.
type toolAccumulator struct {
	name       string
	arguments  []byte
	dispatched bool
}

// pipeStream forwards text fragments unchanged while accumulating tool-call
// deltas, dispatching the image-generation side effect exactly once when the
// accumulated arguments first parse as complete JSON.
func (s *Service) pipeStream(ctx context.Context, req Request, upstream <-chan Event, out chan<- Event) {
	defer close(out)

	accs := make(map[int]*toolAccumulator)

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range upstream {
		if ev.Err != nil {
			emit(ev)
			return
		}

		f := ev.Fragment
		if f.Kind == model.FragmentToolCall && f.ToolCall != nil {
			acc, ok := accs[f.ToolCall.Index]
			if !ok {
				acc = &toolAccumulator{}
				accs[f.ToolCall.Index] = acc
			}
			if f.ToolCall.Name != "" {
				acc.name = f.ToolCall.Name
			}
			acc.arguments = append(acc.arguments, f.ToolCall.Arguments...)

			// Partial JSON is expected streaming behavior, not an error:
			// keep accumulating until the object first becomes valid.
			if !acc.dispatched && len(acc.arguments) > 0 && json.Valid(acc.arguments) {
				acc.dispatched = true
				if file, ok := s.dispatchToolCall(ctx, req, acc.name, acc.arguments); ok {
					if !emit(Event{Fragment: model.Fragment{Kind: model.FragmentFile, File: &file}}) {
						return
					}
				}
			}
			continue
		}

		// Text and control fragments pass through unmodified, also after a
		// tool call has been dispatched.
		if !emit(ev) {
			return
		}
	}

	// End of stream: a never-valid argument payload gets one repair attempt;
	// if it still doesn't parse, the tool call is skipped, not failed.
	for _, acc := range accs {
		if acc.dispatched || len(acc.arguments) == 0 {
			continue
		}
		repaired, err := jsonrepair.JSONRepair(string(acc.arguments))
		if err != nil || !json.Valid([]byte(repaired)) {
			s.logger.Debug("completion: discarding unparseable tool call arguments",
				"tool", acc.name, "bytes", len(acc.arguments))
			continue
		}
		acc.dispatched = true
		if file, ok := s.dispatchToolCall(ctx, req, acc.name, []byte(repaired)); ok {
			emit(Event{Fragment: model.Fragment{Kind: model.FragmentFile, File: &file}})
		}
	}
}

// dispatchToolCall runs the side effect for a completed tool call. Unknown
// tool names are skipped.
func (s *Service) dispatchToolCall(ctx context.Context, req Request, name string, args []byte) (model.File, bool) {
	if name != generateImageTool || s.images == nil || !req.UseImageGeneration {
		return model.File{}, false
	}

	var params struct {
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Prompt == "" {
		s.logger.Debug("completion: tool call arguments do not match schema", "tool", name)
		return model.File{}, false
	}

	file, err := s.images.Generate(ctx, params.Prompt, params.Size)
	if err != nil {
		s.logger.Warn("completion: image generation failed", "error", err)
		return model.File{}, false
	}
	return file, true
}

func (s *Service) record(ctx context.Context, mdl model.CompletionModel, usage model.TokenUsage) {
	attrs := metric.WithAttributes(
		attribute.String("model", mdl.Name),
		attribute.String("family", string(mdl.Family)),
	)
	s.completions.Add(ctx, 1, attrs)
	s.tokensUsed.Add(ctx, int64(usage.TotalTokens), attrs)
}
