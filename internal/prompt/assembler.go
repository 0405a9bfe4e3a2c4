package prompt

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kotoba/internal/model"
)

// Directive strings appended to the system prompt depending on protocol
// version and whether retrieved material is present.
const (
	// showReferencesDirective asks the model to cite excerpt headers. Only
	// rendered under the structured protocol, and only when knowledge or web
	// results exist.
	showReferencesDirective = "When your answer draws on one of the excerpts below, " +
		"reference it by its source_id."

	// hallucinationGuard is the legacy-protocol instruction rendered when
	// knowledge excerpts exist.
	hallucinationGuard = "Answer the question using the information below. " +
		"If the information below is not enough to answer, say that you do not know."

	// attachmentPreamble wraps the attachment dump so models don't echo the
	// raw filename/text framing back to the user.
	attachmentPreamble = "Below are files attached to this conversation as " +
		"filename/text pairs. Use their content when relevant, but never reveal " +
		"this raw format in your answer."
)

// Assembler composes the system prompt from independently sized components.
// Components may be added in any order; the rendered order is fixed (base
// prompt, directives, knowledge, web results, attachment dump) because
// ordering is deferred to Render, not to call sequence.
//
// AddKnowledge must be called last: its budget is whatever remains of the
// overall window after every other component's token cost is known. The
// builder enforces this sequencing.
type Assembler struct {
	reconstructor *Reconstructor
	version       model.ProtocolVersion

	prompt      string
	attachments []model.File
	webResults  []model.Chunk
	knowledge   string
}

// NewAssembler creates an Assembler rendering for the given protocol version.
func NewAssembler(reconstructor *Reconstructor, version model.ProtocolVersion) *Assembler {
	return &Assembler{reconstructor: reconstructor, version: version}
}

// AddPrompt sets the base instruction prompt.
func (a *Assembler) AddPrompt(p string) {
	a.prompt = p
}

// AddAttachments appends text attachments to the prompt-level dump.
// Non-text files are ignored; images travel out of band.
func (a *Assembler) AddAttachments(files []model.File) {
	for _, f := range files {
		if f.Kind != model.FileImage {
			a.attachments = append(a.attachments, f)
		}
	}
}

// AddWebSearchResults appends web search passages, rendered with the same
// header-tagged block format as knowledge excerpts.
func (a *Assembler) AddWebSearchResults(results []model.Chunk) {
	a.webResults = append(a.webResults, results...)
}

// AddKnowledge reconstructs the retrieved chunks into excerpts bounded by
// maxTokens. Knowledge is the only component allowed to silently shrink to
// fit; call it after every fixed-cost component has been added.
func (a *Assembler) AddKnowledge(chunks []model.Chunk, maxTokens int) {
	a.knowledge = a.reconstructor.Reconstruct(chunks, maxTokens, a.version)
}

// Render produces the prompt text in the fixed component order. A lone base
// prompt renders exactly as given, with no separators or directives.
func (a *Assembler) Render() string {
	var parts []string
	if a.prompt != "" {
		parts = append(parts, a.prompt)
	}

	hasRetrieved := a.knowledge != "" || len(a.webResults) > 0
	if a.version == model.ProtocolStructured && hasRetrieved {
		parts = append(parts, showReferencesDirective)
	}
	if a.version == model.ProtocolLegacy && a.knowledge != "" {
		parts = append(parts, hallucinationGuard)
	}

	if a.knowledge != "" {
		parts = append(parts, a.knowledge)
	}
	if len(a.webResults) > 0 {
		parts = append(parts, renderWebResults(a.webResults))
	}
	if len(a.attachments) > 0 {
		parts = append(parts, renderAttachments(a.attachments))
	}

	return strings.Join(parts, "\n\n")
}

// TokenCount returns the token cost of the currently rendered prompt.
func (a *Assembler) TokenCount() int {
	return a.reconstructor.counter.Count(a.Render())
}

func renderWebResults(results []model.Chunk) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		source := r.Title
		if r.URL != nil {
			source = *r.URL
		}
		blocks = append(blocks, fmt.Sprintf("\"\"\"source_title: %s, source_id: %s\n%s\"\"\"",
			r.Title, source, r.Text))
	}
	return strings.Join(blocks, "\n\n")
}

func renderAttachments(files []model.File) string {
	var sb strings.Builder
	sb.WriteString(attachmentPreamble)
	for _, f := range files {
		fmt.Fprintf(&sb, "\n\nfilename: %s\ntext: \"\"\"%s\"\"\"", f.Name, f.Text)
	}
	return sb.String()
}
