// Package tokenizer provides deterministic token counting for prompt
// budgeting, backed by tiktoken's cl100k_base encoding with a rune-based
// heuristic fallback when the encoding cannot be loaded.
//
// Budget arithmetic in the prompt builder works by repeated re-counting and
// subtraction, so Count must be a pure function of the text alone: same text,
// same count, regardless of call order. Both the tiktoken path and the
// fallback satisfy this, and both are monotone (appending non-empty text
// never decreases the count).
package tokenizer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts model tokens in text.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter creates a Counter using the cl100k_base encoding (GPT-4 and
// Claude compatible, a reasonable cross-provider approximation). If the encoding
// is unavailable (e.g. the offline BPE data failed to load), the Counter
// falls back to a heuristic estimate rather than failing.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return NewHeuristicCounter()
	}
	return &Counter{enc: enc}
}

// NewHeuristicCounter creates a Counter that always uses the heuristic
// estimate. This is the backend NewCounter degrades to when the BPE data is
// unavailable; consumers whose arithmetic must hold on either backend can
// test against it directly.
func NewHeuristicCounter() *Counter {
	return &Counter{}
}

// Count returns the number of tokens in text. Empty input counts as zero.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

// estimate is the heuristic fallback: max(runes/4, word count), at least 1
// for non-empty input.
func estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 1 // whitespace still encodes to at least one token
	}
	n := len([]rune(text)) / 4
	if w := len(strings.Fields(trimmed)); w > n {
		n = w
	}
	if n == 0 {
		n = 1
	}
	return n
}
