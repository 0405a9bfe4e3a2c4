package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kotoba/internal/model"
)

// CreateCollection inserts a new knowledge collection.
func (db *DB) CreateCollection(ctx context.Context, c model.Collection) (model.Collection, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO collections (id, space_id, tenant_id, name, embedding_model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.SpaceID, c.TenantID, c.Name, c.EmbeddingModel, c.CreatedAt,
	)
	if err != nil {
		return model.Collection{}, fmt.Errorf("storage: create collection: %w", err)
	}
	return c, nil
}

// GetCollection retrieves a collection by ID.
func (db *DB) GetCollection(ctx context.Context, id uuid.UUID) (model.Collection, error) {
	var c model.Collection
	err := db.pool.QueryRow(ctx,
		`SELECT id, space_id, tenant_id, name, embedding_model, created_at
		 FROM collections WHERE id = $1`, id,
	).Scan(&c.ID, &c.SpaceID, &c.TenantID, &c.Name, &c.EmbeddingModel, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Collection{}, fmt.Errorf("storage: collection %s: %w", id, ErrNotFound)
		}
		return model.Collection{}, fmt.Errorf("storage: get collection: %w", err)
	}
	return c, nil
}

// CreateDocument inserts a document row. Chunks are ingested separately via
// InsertChunks.
func (db *DB) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO documents (id, collection_id, tenant_id, title, url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.CollectionID, d.TenantID, d.Title, d.URL, d.CreatedAt,
	)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: create document: %w", err)
	}
	return d, nil
}

// InsertChunks batch-ingests a document's chunks with their embeddings using
// COPY. chunks and embeddings must be the same length and aligned by index.
func (db *DB) InsertChunks(ctx context.Context, chunks []model.Chunk, embeddings []pgvector.Vector) (int64, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("storage: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	columns := []string{"id", "document_id", "title", "position", "text", "url", "embedding"}
	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		if len(c.Text) > model.MaxChunkTextLen {
			return 0, fmt.Errorf("storage: chunk %s text exceeds %d bytes", c.ID, model.MaxChunkTextLen)
		}
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{id, c.DocumentID, c.Title, c.Position, c.Text, c.URL, embeddings[i]}
	}

	copyCount, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: copy chunks: %w", err)
	}
	return copyCount, nil
}

// ListChunksByDocument returns a document's chunks in position order, used to
// rebuild the search index from the source of truth.
func (db *DB) ListChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]model.Chunk, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, title, position, text, url
		 FROM chunks WHERE document_id = $1 ORDER BY position`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Title, &c.Position, &c.Text, &c.URL); err != nil {
			return nil, fmt.Errorf("storage: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteDocument removes a document and its chunks. The caller is responsible
// for deleting the corresponding points from the search index.
func (db *DB) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: document %s: %w", id, ErrNotFound)
	}
	return nil
}
