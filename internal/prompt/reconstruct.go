package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/tokenizer"
)

// Reconstructor turns a relevance-ranked flat list of chunks into a
// token-budget-respecting set of excerpts, merging adjacent chunks from the
// same document and re-ordering the merged groups by aggregate relevance.
type Reconstructor struct {
	counter *tokenizer.Counter
}

// NewReconstructor creates a Reconstructor using counter for budget
// accounting.
func NewReconstructor(counter *tokenizer.Counter) *Reconstructor {
	return &Reconstructor{counter: counter}
}

// admitted pairs a chunk with its index in the original ranking. The index
// drives the harmonic relevance score of the group it ends up in.
type admitted struct {
	chunk model.Chunk
	rank  int
}

// header renders the source attribution line for a chunk. Its token cost is
// charged once per document, on the first chunk seen for that document.
func header(c model.Chunk) string {
	return fmt.Sprintf("source_title: %s, source_id: %s", c.Title, c.DocumentID.String()[:8])
}

// admit walks chunks in the caller's order (relevance descending) and keeps
// them while they fit in maxTokens. The first chunk that would overflow the
// budget stops admission entirely: it is dropped whole, and no later chunk
// is considered, even from documents already represented. Partial inclusion
// and lookahead packing are deliberately not attempted.
func (r *Reconstructor) admit(chunks []model.Chunk, maxTokens int) []admitted {
	var kept []admitted
	used := 0
	seen := make(map[uuid.UUID]bool)

	for i, c := range chunks {
		cost := r.counter.Count(c.Text)
		if !seen[c.DocumentID] {
			cost += r.counter.Count(header(c))
		}
		if used+cost > maxTokens {
			break
		}
		used += cost
		seen[c.DocumentID] = true
		kept = append(kept, admitted{chunk: c, rank: i})
	}
	return kept
}

// buildGroups groups admitted chunks by document, orders each document's
// chunks by position, splits them into maximal contiguous runs, and merges
// each run into one ChunkGroup with overlap-aware stitching. Groups are
// returned sorted by aggregate relevance, descending; ties keep the order
// groups were built in (documents by first appearance, runs by position).
func buildGroups(kept []admitted) []model.ChunkGroup {
	byDoc := make(map[uuid.UUID][]admitted)
	var docOrder []uuid.UUID
	for _, a := range kept {
		id := a.chunk.DocumentID
		if _, ok := byDoc[id]; !ok {
			docOrder = append(docOrder, id)
		}
		byDoc[id] = append(byDoc[id], a)
	}

	var groups []model.ChunkGroup
	for _, id := range docOrder {
		members := byDoc[id]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].chunk.Position < members[j].chunk.Position
		})

		run := []admitted{members[0]}
		for _, a := range members[1:] {
			if a.chunk.Position == run[len(run)-1].chunk.Position+1 {
				run = append(run, a)
				continue
			}
			groups = append(groups, mergeRun(run))
			run = []admitted{a}
		}
		groups = append(groups, mergeRun(run))
	}

	// Stable: equal scores preserve build order, which keeps output
	// deterministic for fixture-based tests.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Relevance > groups[j].Relevance
	})
	return groups
}

// mergeRun concatenates a contiguous run of chunks into one group. Before
// appending each chunk, the longest suffix of the accumulated text that
// equals a prefix of the incoming text is dropped from the incoming side, so
// sliding-window retrieval overlap appears once in the merged excerpt.
//
// This is a plain contiguous-substring match: it under-merges when the
// overlapping region differs in whitespace or normalization. Known
// limitation, kept as-is.
func mergeRun(run []admitted) model.ChunkGroup {
	first := run[0].chunk
	var sb strings.Builder
	sb.WriteString(first.Text)
	score := 1.0 / float64(1+run[0].rank)

	for _, a := range run[1:] {
		k := commonOverlap(sb.String(), a.chunk.Text)
		sb.WriteString(a.chunk.Text[k:])
		score += 1.0 / float64(1+a.rank)
	}

	return model.ChunkGroup{
		DocumentID: first.DocumentID,
		Title:      first.Title,
		StartPos:   first.Position,
		EndPos:     run[len(run)-1].chunk.Position,
		Text:       sb.String(),
		Members:    len(run),
		Relevance:  score,
	}
}

// commonOverlap returns the length of the longest suffix of a that is also a
// prefix of b.
func commonOverlap(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for k := n; k > 0; k-- {
		if strings.HasSuffix(a, b[:k]) {
			return k
		}
	}
	return 0
}

// render produces the final excerpt text. Legacy protocol emits bare quoted
// blocks; the structured protocol tags each block with its source header so
// the model can cite it.
func render(groups []model.ChunkGroup, version model.ProtocolVersion) string {
	if len(groups) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(groups))
	for _, g := range groups {
		if version == model.ProtocolStructured {
			blocks = append(blocks, fmt.Sprintf("\"\"\"source_title: %s, source_id: %s\n%s\"\"\"",
				g.Title, g.DocumentID.String()[:8], g.Text))
		} else {
			blocks = append(blocks, fmt.Sprintf("\"\"\"%s\"\"\"", g.Text))
		}
	}
	return strings.Join(blocks, "\n\n")
}

// Reconstruct runs the full pipeline: budget admission, grouping, overlap
// merge, relevance ordering, rendering. Returns "" when nothing fits.
func (r *Reconstructor) Reconstruct(chunks []model.Chunk, maxTokens int, version model.ProtocolVersion) string {
	if len(chunks) == 0 || maxTokens <= 0 {
		return ""
	}
	kept := r.admit(chunks, maxTokens)
	if len(kept) == 0 {
		return ""
	}
	return render(buildGroups(kept), version)
}
