// Package prompt assembles token-bounded model contexts: it reconstructs
// retrieved knowledge chunks into coherent excerpts, composes the system
// prompt from its fixed-order components, windows chat history, and accounts
// every token against the target model's context limit.
//
// User input, the system prompt, and the recent history window are
// must-include: if they alone exceed the usable budget the build fails with
// ErrQueryTooLong rather than silently truncating content the user assumes
// is present verbatim. Retrieved knowledge is best-effort and fills whatever
// budget remains.
package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/tokenizer"
)

// ErrQueryTooLong is returned when the must-include content (input, prompt,
// history floor) alone exceeds the usable context window. Surfaced to the
// end user as a rejected request; never retried, never silently truncated.
var ErrQueryTooLong = errors.New("prompt: question is too long for the model's context window")

const (
	// safetyBuffer is reserved off the top of every model window. Token
	// counting is approximate and the provider's own tokenizer may diverge
	// slightly, so the full nominal window is never spent.
	safetyBuffer = 1000

	// minKnowledgeFraction reserves at least this share of the usable window
	// for retrieved knowledge once fixed costs are paid; chat history may
	// consume at most the remainder.
	minKnowledgeFraction = 0.8

	// minHistoryMessages is the history floor: this many recent turns are
	// included even when the history budget would exclude them, so short-term
	// conversational continuity never silently degrades.
	minHistoryMessages = 3
)

// BuildParams are the inputs to one context build.
type BuildParams struct {
	// Input is the raw user question for this turn.
	Input string
	// MaxTokens is the target model's context window.
	MaxTokens int
	// Files are this turn's attachments; text files are dumped into the
	// input, images are carried out of band.
	Files []model.File
	// Transcripts are audio transcription fragments prefixed to the input.
	Transcripts []string
	// Prompt is the assistant's instruction prompt.
	Prompt string
	// PromptFiles are assistant-level attachments dumped into the prompt.
	PromptFiles []model.File
	// WebResults are web search passages, already relevance-ordered.
	WebResults []model.Chunk
	// Chunks are retrieved knowledge passages, relevance-descending.
	Chunks []model.Chunk
	// Messages is the prior conversation, chronological (oldest first).
	Messages []model.Message
	// Version selects the prompt rendering dialect.
	Version model.ProtocolVersion
	// UseFunctions exposes Functions to the model via the adapter.
	UseFunctions bool
	// Functions are the tool definitions offered when UseFunctions is set.
	Functions []model.FunctionDefinition
}

// Builder is the top-level budgeting orchestrator. It is pure and
// synchronous; one Builder may be shared across requests.
type Builder struct {
	counter *tokenizer.Counter
	logger  *slog.Logger
}

// NewBuilder creates a Builder counting tokens with counter.
func NewBuilder(counter *tokenizer.Counter, logger *slog.Logger) *Builder {
	return &Builder{counter: counter, logger: logger}
}

// Build assembles an immutable Context from p. For fixed inputs the result
// is byte-identical across calls.
func (b *Builder) Build(p BuildParams) (*model.Context, error) {
	usable := p.MaxTokens - safetyBuffer

	textFiles, images := model.PartitionFiles(p.Files)
	input := renderInput(textFiles, p.Transcripts, p.Input)
	used := b.counter.Count(input)

	asm := NewAssembler(NewReconstructor(b.counter), p.Version)
	asm.AddPrompt(p.Prompt)
	asm.AddAttachments(p.PromptFiles)
	asm.AddWebSearchResults(p.WebResults)
	used += asm.TokenCount()

	historyBudget := int(float64(usable)*(1-minKnowledgeFraction)) - used
	messages, historyTokens := b.windowHistory(p.Messages, historyBudget)
	used += historyTokens

	if used > usable {
		b.logger.Debug("prompt: must-include content exceeds usable window",
			"used", used, "usable", usable, "max_tokens", p.MaxTokens)
		return nil, fmt.Errorf("%w: %d tokens of input, prompt and history against a usable budget of %d",
			ErrQueryTooLong, used, usable)
	}

	// Knowledge fills whatever remains. It is the only component allowed to
	// shrink or drop content to fit.
	asm.AddKnowledge(p.Chunks, usable-used)
	promptText := asm.Render()

	ctx := &model.Context{
		Input:      input,
		Prompt:     promptText,
		Messages:   messages,
		Images:     images,
		TokenCount: b.counter.Count(input) + b.counter.Count(promptText) + historyTokens,
	}
	if p.UseFunctions {
		ctx.Functions = p.Functions
	}
	return ctx, nil
}

// windowHistory walks messages newest-first, including each full Q&A pair as
// one atomic unit, and returns the admitted suffix oldest-first. The budget
// stops inclusion only after the history floor is met; the floor turns are
// included regardless of cost.
func (b *Builder) windowHistory(messages []model.Message, budget int) ([]model.Message, int) {
	var included []model.Message
	total := 0

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		cost := b.counter.Count(m.Question) + b.counter.Count(m.Answer)
		if len(included) >= minHistoryMessages && total+cost > budget {
			break
		}
		// Prepend to keep chronological order in the result.
		included = append([]model.Message{m}, included...)
		total += cost
	}
	return included, total
}

// renderInput prefixes the user question with attachment dumps and
// transcription fragments. A bare question renders exactly as given.
func renderInput(textFiles []model.File, transcripts []string, question string) string {
	var parts []string
	for _, f := range textFiles {
		parts = append(parts, fmt.Sprintf("filename: %s\ntext: \"\"\"%s\"\"\"", f.Name, f.Text))
	}
	for _, t := range transcripts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	parts = append(parts, question)
	return strings.Join(parts, "\n\n")
}
