package prompt

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/tokenizer"
)

func chunk(doc uuid.UUID, title string, pos int, text string) model.Chunk {
	return model.Chunk{
		ID:         uuid.New(),
		DocumentID: doc,
		Title:      title,
		Position:   pos,
		Text:       text,
	}
}

func TestCommonOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"no overlap", "abcdef", "xyz", 0},
		{"clean overlap", "...the quick", "quick brown fox", 5},
		{"full prefix", "abc", "abcdef", 3},
		{"single char", "banana", "again", 1},
		{"empty right", "abc", "", 0},
		{"empty left", "", "abc", 0},
		{"whitespace difference defeats the match", "end of line ", "end of line\nnext", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commonOverlap(tt.a, tt.b))
		})
	}
}

func TestMergeRunStitchesOverlapOnce(t *testing.T) {
	doc := uuid.New()
	run := []admitted{
		{chunk: chunk(doc, "Doc", 0, "around he looked and saw the quick"), rank: 0},
		{chunk: chunk(doc, "Doc", 1, "quick brown fox jumping the fence"), rank: 1},
	}

	g := mergeRun(run)
	assert.Equal(t, "around he looked and saw the quick brown fox jumping the fence", g.Text)
	assert.Equal(t, 1, strings.Count(g.Text, "quick"), "overlapping region must appear exactly once")
	assert.Equal(t, 0, g.StartPos)
	assert.Equal(t, 1, g.EndPos)
	assert.Equal(t, 2, g.Members)
	assert.InDelta(t, 1.0/1+1.0/2, g.Relevance, 1e-9)
}

func TestAdmitStopAndDiscard(t *testing.T) {
	// Admission arithmetic must hold on the real encoding and on the
	// heuristic backend Count degrades to without BPE data.
	for name, counter := range map[string]*tokenizer.Counter{
		"encoding":  tokenizer.NewCounter(),
		"heuristic": tokenizer.NewHeuristicCounter(),
	} {
		t.Run(name, func(t *testing.T) {
			r := NewReconstructor(counter)

			text := strings.TrimSpace(strings.Repeat("knowledge ", 500))
			chunks := []model.Chunk{
				chunk(uuid.New(), "A", 0, text),
				chunk(uuid.New(), "B", 0, text),
				chunk(uuid.New(), "C", 0, text),
			}

			cost := func(c model.Chunk) int {
				return counter.Count(c.Text) + counter.Count(header(c))
			}

			// A budget that fits the first two chunks whole but only half
			// of the third: the third is dropped whole, even though a
			// smarter packer could fit part of it.
			budget := cost(chunks[0]) + cost(chunks[1]) + cost(chunks[2])/2
			kept := r.admit(chunks, budget)
			require.Len(t, kept, 2)
			assert.Equal(t, chunks[0].DocumentID, kept[0].chunk.DocumentID)
			assert.Equal(t, chunks[1].DocumentID, kept[1].chunk.DocumentID)
		})
	}
}

func TestAdmitNoLookaheadPastOverflow(t *testing.T) {
	counter := tokenizer.NewCounter()
	r := NewReconstructor(counter)

	doc := uuid.New()
	big := strings.TrimSpace(strings.Repeat("giant ", 400))
	chunks := []model.Chunk{
		chunk(doc, "Doc", 0, "tiny opener"),
		chunk(uuid.New(), "Other", 0, big), // overflows
		chunk(doc, "Doc", 1, "tiny follow-up from an already-included document"),
	}

	budget := counter.Count(chunks[0].Text) + counter.Count(header(chunks[0])) + 50
	kept := r.admit(chunks, budget)

	// Admission stops at the overflowing chunk; the later small chunk is
	// never considered even though it would fit.
	require.Len(t, kept, 1)
	assert.Equal(t, 0, kept[0].chunk.Position)
}

func TestAdmitFirstChunkTooLarge(t *testing.T) {
	counter := tokenizer.NewCounter()
	r := NewReconstructor(counter)

	big := strings.Repeat("overflow ", 200)
	out := r.Reconstruct([]model.Chunk{chunk(uuid.New(), "Doc", 0, big)}, 50, model.ProtocolStructured)
	assert.Empty(t, out, "a document whose first chunk exceeds the budget contributes nothing")
}

func TestBuildGroupsOrdering(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()

	// Ranking interleaves the documents. Doc B's single top-ranked chunk
	// (rank 0, score 1.0) must outrank doc A's two-chunk group
	// (ranks 1 and 3, score 1/2 + 1/4).
	kept := []admitted{
		{chunk: chunk(docB, "B", 4, "b text"), rank: 0},
		{chunk: chunk(docA, "A", 1, "a first"), rank: 1},
		{chunk: chunk(docA, "A", 7, "a distant"), rank: 2},
		{chunk: chunk(docA, "A", 2, "a second"), rank: 3},
	}

	groups := buildGroups(kept)
	require.Len(t, groups, 3)

	assert.Equal(t, docB, groups[0].DocumentID)
	assert.InDelta(t, 1.0, groups[0].Relevance, 1e-9)

	// Doc A's contiguous run (positions 1-2) beats its lone distant chunk.
	assert.Equal(t, docA, groups[1].DocumentID)
	assert.Equal(t, 1, groups[1].StartPos)
	assert.Equal(t, 2, groups[1].EndPos)
	assert.Equal(t, 2, groups[1].Members)

	assert.Equal(t, 7, groups[2].StartPos)
}

func TestRenderModes(t *testing.T) {
	doc := uuid.New()
	groups := buildGroups([]admitted{{chunk: chunk(doc, "Handbook", 3, "excerpt text"), rank: 0}})
	require.Len(t, groups, 1)

	legacy := render(groups, model.ProtocolLegacy)
	assert.Equal(t, `"""excerpt text"""`, legacy)

	structured := render(groups, model.ProtocolStructured)
	assert.Contains(t, structured, "source_title: Handbook")
	assert.Contains(t, structured, "source_id: "+doc.String()[:8])
	assert.True(t, strings.HasSuffix(structured, `excerpt text"""`))
}

func TestReconstructDeterministic(t *testing.T) {
	r := NewReconstructor(tokenizer.NewCounter())
	docA, docB := uuid.New(), uuid.New()
	chunks := []model.Chunk{
		chunk(docA, "A", 0, "alpha beta gamma"),
		chunk(docB, "B", 2, "delta epsilon"),
		chunk(docA, "A", 1, "gamma delta"),
	}

	first := r.Reconstruct(chunks, 10_000, model.ProtocolStructured)
	assert.Equal(t, first, r.Reconstruct(chunks, 10_000, model.ProtocolStructured))
	assert.NotEmpty(t, first)
}
