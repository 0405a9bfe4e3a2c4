package model

import (
	"time"

	"github.com/google/uuid"
)

// Collection is a tenant-scoped set of knowledge documents an assistant can
// retrieve from.
type Collection struct {
	ID             uuid.UUID `json:"id"`
	SpaceID        uuid.UUID `json:"space_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Name           string    `json:"name"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

// Document is one ingested source inside a collection. Its text lives in
// chunks; the document row carries the shared metadata every chunk inherits.
type Document struct {
	ID           uuid.UUID `json:"id"`
	CollectionID uuid.UUID `json:"collection_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Title        string    `json:"title"`
	URL          *string   `json:"url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
