package model

import "github.com/google/uuid"

// ModelFamily selects the wire adapter used to invoke a completion model.
// The set is closed: adapter selection is an exhaustive switch, and an
// unknown family is a deployment misconfiguration, not a runtime fallback.
type ModelFamily string

const (
	FamilyOpenAI    ModelFamily = "openai"
	FamilyAnthropic ModelFamily = "anthropic"
)

// ProtocolVersion selects the prompt rendering dialect.
//
// Version 1 (legacy) renders knowledge as bare quoted blocks and appends a
// hallucination-guard directive. Version 2 renders header-tagged blocks and
// a "show references" directive instead.
type ProtocolVersion int

const (
	ProtocolLegacy     ProtocolVersion = 1
	ProtocolStructured ProtocolVersion = 2
)

// CompletionModel describes an available language model.
type CompletionModel struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Nickname   string      `json:"nickname"`
	Family     ModelFamily `json:"family"`
	TokenLimit int         `json:"token_limit"`
	Vision     bool        `json:"vision"`
	BaseURL    string      `json:"base_url,omitempty"`
}

// FunctionDefinition describes a callable tool exposed to the model.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Context is the fully assembled, token-bounded payload handed to a model
// adapter. It is constructed once per request by the prompt builder and
// never mutated afterwards.
type Context struct {
	// Input is the rendered user turn: file dumps and transcription text
	// followed by the question itself.
	Input string
	// Prompt is the system prompt: instructions, knowledge excerpts, web
	// results and attachment dumps in fixed order.
	Prompt string
	// Messages is the admitted history window, oldest first.
	Messages []Message
	// Images are the attachments passed out of band to vision models.
	Images []File
	// TokenCount is the measured cost of Input + Prompt + Messages.
	TokenCount int
	// Functions are the tool definitions offered to the model, if any.
	Functions []FunctionDefinition
}

// FragmentKind tags one element of a streaming completion response.
type FragmentKind string

const (
	FragmentText     FragmentKind = "text"
	FragmentToolCall FragmentKind = "tool_call_partial"
	FragmentFile     FragmentKind = "generated_file"
	FragmentControl  FragmentKind = "control_event"
)

// ToolCallDelta is an incrementally arriving piece of a tool call. Name and
// ID may arrive on the first delta only; Arguments accumulate across deltas
// and are not valid JSON until the stream ends.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Fragment is one element of a forward-only streaming response. Exactly one
// of the payload fields is set, per Kind.
type Fragment struct {
	Kind     FragmentKind
	Text     string
	ToolCall *ToolCallDelta
	File     *File
}

// TokenUsage is the adapter-reported token accounting for one invocation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is the final outcome of one model invocation, streaming
// or batch.
type CompletionResult struct {
	Text           string     `json:"text"`
	GeneratedFiles []File     `json:"generated_files,omitempty"`
	Usage          TokenUsage `json:"usage"`
	StopReason     string     `json:"stop_reason,omitempty"`
}
