package prompt

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/tokenizer"
)

func testBuilder() (*Builder, *tokenizer.Counter) {
	counter := tokenizer.NewCounter()
	return NewBuilder(counter, slog.New(slog.DiscardHandler)), counter
}

func shortMessages(n int) []model.Message {
	msgs := make([]model.Message, 0, n)
	for i := range n {
		msgs = append(msgs, model.Message{
			ID:       uuid.New(),
			Question: fmt.Sprintf("question %d", i),
			Answer:   fmt.Sprintf("answer %d", i),
		})
	}
	return msgs
}

func TestBuildBareConversation(t *testing.T) {
	b, counter := testBuilder()

	ctx, err := b.Build(BuildParams{
		Input:     "What is the capital of France?",
		MaxTokens: 2000,
		Prompt:    "You are a helpful assistant.",
		Version:   model.ProtocolLegacy,
	})
	require.NoError(t, err)

	// No knowledge and no web results: the prompt is exactly the base
	// instruction, with no guard or reference directive appended.
	assert.Equal(t, "You are a helpful assistant.", ctx.Prompt)
	assert.Equal(t, "What is the capital of France?", ctx.Input)
	assert.Empty(t, ctx.Messages)
	assert.Equal(t,
		counter.Count(ctx.Input)+counter.Count(ctx.Prompt),
		ctx.TokenCount)
}

func TestBuildDeterministic(t *testing.T) {
	b, _ := testBuilder()
	doc := uuid.New()

	params := BuildParams{
		Input:     "Summarize the vacation policy.",
		MaxTokens: 4000,
		Prompt:    "You are the HR assistant.",
		Chunks: []model.Chunk{
			chunk(doc, "Handbook", 0, "Employees accrue 25 vacation days per year."),
			chunk(doc, "Handbook", 1, "per year. Unused days roll over once."),
		},
		Messages: shortMessages(2),
		Version:  model.ProtocolStructured,
	}

	first, err := b.Build(params)
	require.NoError(t, err)
	second, err := b.Build(params)
	require.NoError(t, err)

	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, first.TokenCount, second.TokenCount)
}

func TestBuildRespectsBudget(t *testing.T) {
	b, counter := testBuilder()

	var chunks []model.Chunk
	doc := uuid.New()
	for i := range 40 {
		chunks = append(chunks, chunk(doc, "Big Doc", i*2, strings.Repeat("filler content ", 40)))
	}

	maxTokens := 3000
	ctx, err := b.Build(BuildParams{
		Input:     "What does the document say?",
		MaxTokens: maxTokens,
		Prompt:    "You are a helpful assistant.",
		Chunks:    chunks,
		Messages:  shortMessages(6),
		Version:   model.ProtocolStructured,
	})
	require.NoError(t, err)

	measured := counter.Count(ctx.Input) + counter.Count(ctx.Prompt)
	for _, m := range ctx.Messages {
		measured += counter.Count(m.Question) + counter.Count(m.Answer)
	}
	assert.LessOrEqual(t, measured, maxTokens,
		"rendered context must fit the nominal window; the safety buffer is slack, not spend")
}

// fatMessages builds turns heavy enough that a tightly sized history budget
// cannot reach past the floor.
func fatMessages(n int) []model.Message {
	msgs := make([]model.Message, 0, n)
	for i := range n {
		msgs = append(msgs, model.Message{
			ID:       uuid.New(),
			Question: fmt.Sprintf("question %d %s", i, strings.Repeat("detail ", 20)),
			Answer:   fmt.Sprintf("answer %d %s", i, strings.Repeat("detail ", 20)),
		})
	}
	return msgs
}

func TestHistoryFloor(t *testing.T) {
	// The floor must hold on the real encoding and on the heuristic backend
	// Count degrades to without BPE data.
	for name, counter := range map[string]*tokenizer.Counter{
		"encoding":  tokenizer.NewCounter(),
		"heuristic": tokenizer.NewHeuristicCounter(),
	} {
		t.Run(name, func(t *testing.T) {
			b := NewBuilder(counter, slog.New(slog.DiscardHandler))
			msgs := fatMessages(5)

			// Cost of the three newest turns, which the floor admits
			// regardless.
			floorCost := 0
			for _, m := range msgs[2:] {
				floorCost += counter.Count(m.Question) + counter.Count(m.Answer)
			}

			// Size the window so the history budget lands at the floor cost
			// or just under it: the floor guarantees three turns, and the
			// budget admits nothing beyond them.
			ctx, err := b.Build(BuildParams{
				Input:     "follow-up?",
				MaxTokens: safetyBuffer + 5*floorCost,
				Prompt:    "Assistant.",
				Messages:  msgs,
				Version:   model.ProtocolLegacy,
			})
			require.NoError(t, err)

			require.Len(t, ctx.Messages, 3)
			// Oldest-first suffix of the original five.
			assert.True(t, strings.HasPrefix(ctx.Messages[0].Question, "question 2"))
			assert.True(t, strings.HasPrefix(ctx.Messages[1].Question, "question 3"))
			assert.True(t, strings.HasPrefix(ctx.Messages[2].Question, "question 4"))
		})
	}
}

func TestHistoryFloorShortConversation(t *testing.T) {
	b, _ := testBuilder()
	ctx, err := b.Build(BuildParams{
		Input:     "hi",
		MaxTokens: 1200,
		Prompt:    "Assistant.",
		Messages:  shortMessages(2),
		Version:   model.ProtocolLegacy,
	})
	require.NoError(t, err)
	assert.Len(t, ctx.Messages, 2, "floor is min(3, available)")
}

func TestHistoryBudgetExpandsPastFloor(t *testing.T) {
	b, _ := testBuilder()
	ctx, err := b.Build(BuildParams{
		Input:     "follow-up?",
		MaxTokens: 50_000,
		Prompt:    "Assistant.",
		Messages:  shortMessages(8),
		Version:   model.ProtocolLegacy,
	})
	require.NoError(t, err)
	assert.Len(t, ctx.Messages, 8, "a roomy budget admits the whole history")
}

func TestBuildQueryTooLong(t *testing.T) {
	b, _ := testBuilder()

	_, err := b.Build(BuildParams{
		Input:     strings.Repeat("very long question ", 2000),
		MaxTokens: 2000,
		Prompt:    "Assistant.",
		Version:   model.ProtocolLegacy,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryTooLong)
}

func TestBuildPartitionsImages(t *testing.T) {
	b, _ := testBuilder()

	ctx, err := b.Build(BuildParams{
		Input:     "What's in this picture?",
		MaxTokens: 4000,
		Prompt:    "Assistant.",
		Files: []model.File{
			{Name: "scan.png", Kind: model.FileImage, Data: []byte{0x89}},
			{Name: "notes.txt", Kind: model.FileText, Text: "meeting notes"},
		},
		Version: model.ProtocolStructured,
	})
	require.NoError(t, err)

	require.Len(t, ctx.Images, 1)
	assert.Equal(t, "scan.png", ctx.Images[0].Name)
	assert.Contains(t, ctx.Input, "notes.txt")
	assert.True(t, strings.HasSuffix(ctx.Input, "What's in this picture?"))
	assert.NotContains(t, ctx.Prompt, "notes.txt", "turn attachments go into the input, not the prompt")
}

func TestBuildFunctions(t *testing.T) {
	b, _ := testBuilder()
	fns := []model.FunctionDefinition{{Name: "generate_image", Description: "Generate an image"}}

	with, err := b.Build(BuildParams{
		Input: "draw a cat", MaxTokens: 2000, Prompt: "Assistant.",
		Version: model.ProtocolStructured, UseFunctions: true, Functions: fns,
	})
	require.NoError(t, err)
	assert.Equal(t, fns, with.Functions)

	without, err := b.Build(BuildParams{
		Input: "draw a cat", MaxTokens: 2000, Prompt: "Assistant.",
		Version: model.ProtocolStructured, Functions: fns,
	})
	require.NoError(t, err)
	assert.Nil(t, without.Functions, "definitions are withheld unless function calling is enabled")
}
