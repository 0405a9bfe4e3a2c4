package model

import "github.com/google/uuid"

// Chunk field limits. Oversized chunks inflate token accounting and slow the
// overlap merge, so the retrieval layer rejects them at ingestion.
const MaxChunkTextLen = 32 * 1024 // 32 KB

// Chunk is an immutable retrieved passage of source text. Chunks are produced
// relevance-descending by the retrieval collaborator and are only ever
// grouped and re-ordered downstream, never mutated.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title"`
	// Position is the chunk's zero-based index within its source document.
	// Positions are contiguous within a document.
	Position int     `json:"position"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
	URL      *string `json:"url,omitempty"`
}

// ChunkGroup is an ephemeral aggregate of adjacent chunks from one document,
// built fresh on every context-build call and discarded once the prompt
// string is rendered.
//
// Invariant: StartPos <= EndPos, and the member chunks form a contiguous run
// of Position within a single document.
type ChunkGroup struct {
	DocumentID uuid.UUID
	Title      string
	StartPos   int
	EndPos     int
	Text       string
	Members    int
	// Relevance is the harmonic-decay aggregate over member chunks:
	// sum of 1/(1+i) where i is the chunk's index in the original ranking.
	Relevance float64
}
