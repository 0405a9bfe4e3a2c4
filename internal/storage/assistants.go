package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kotoba/internal/model"
)

// nullableUUID maps the zero UUID onto SQL NULL for optional references.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// CreateAssistant inserts a new assistant. A zero ModelID means no model
// is bound yet.
func (db *DB) CreateAssistant(ctx context.Context, a model.Assistant) (model.Assistant, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO assistants (id, space_id, name, prompt, published, insight_enabled, completion_model_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		a.ID, a.SpaceID, a.Name, a.Prompt, a.Published, a.InsightEnabled, nullableUUID(a.ModelID),
	)
	if err != nil {
		return model.Assistant{}, fmt.Errorf("storage: create assistant: %w", err)
	}
	return a, nil
}

// GetAssistant retrieves an assistant by ID.
func (db *DB) GetAssistant(ctx context.Context, id uuid.UUID) (model.Assistant, error) {
	var a model.Assistant
	var modelID *uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT id, space_id, name, prompt, published, insight_enabled, completion_model_id
		 FROM assistants WHERE id = $1`, id,
	).Scan(&a.ID, &a.SpaceID, &a.Name, &a.Prompt, &a.Published, &a.InsightEnabled, &modelID)
	if modelID != nil {
		a.ModelID = *modelID
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Assistant{}, fmt.Errorf("storage: assistant %s: %w", id, ErrNotFound)
		}
		return model.Assistant{}, fmt.Errorf("storage: get assistant: %w", err)
	}
	return a, nil
}

// UpdateAssistant replaces the mutable fields of an assistant.
func (db *DB) UpdateAssistant(ctx context.Context, a model.Assistant) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE assistants
		 SET name = $2, prompt = $3, published = $4, insight_enabled = $5,
		     completion_model_id = $6, updated_at = now()
		 WHERE id = $1`,
		a.ID, a.Name, a.Prompt, a.Published, a.InsightEnabled, nullableUUID(a.ModelID),
	)
	if err != nil {
		return fmt.Errorf("storage: update assistant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: assistant %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// ListAssistants returns the assistants in a space ordered by name.
func (db *DB) ListAssistants(ctx context.Context, spaceID uuid.UUID) ([]model.Assistant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, space_id, name, prompt, published, insight_enabled, completion_model_id
		 FROM assistants WHERE space_id = $1 ORDER BY name`, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list assistants: %w", err)
	}
	defer rows.Close()

	var assistants []model.Assistant
	for rows.Next() {
		var a model.Assistant
		var modelID *uuid.UUID
		if err := rows.Scan(&a.ID, &a.SpaceID, &a.Name, &a.Prompt, &a.Published, &a.InsightEnabled, &modelID); err != nil {
			return nil, fmt.Errorf("storage: scan assistant: %w", err)
		}
		if modelID != nil {
			a.ModelID = *modelID
		}
		assistants = append(assistants, a)
	}
	return assistants, rows.Err()
}

// UpsertCompletionModel inserts or updates one entry of the model catalog.
// The catalog is seeded at deploy time, keyed by model name.
func (db *DB) UpsertCompletionModel(ctx context.Context, m model.CompletionModel) (model.CompletionModel, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO completion_models (id, name, nickname, family, token_limit, vision, base_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE
		 SET nickname = EXCLUDED.nickname, family = EXCLUDED.family,
		     token_limit = EXCLUDED.token_limit, vision = EXCLUDED.vision,
		     base_url = EXCLUDED.base_url
		 RETURNING id`,
		m.ID, m.Name, m.Nickname, m.Family, m.TokenLimit, m.Vision, m.BaseURL,
	).Scan(&m.ID)
	if err != nil {
		return model.CompletionModel{}, fmt.Errorf("storage: upsert completion model: %w", err)
	}
	return m, nil
}

// GetCompletionModel retrieves a completion model by ID.
func (db *DB) GetCompletionModel(ctx context.Context, id uuid.UUID) (model.CompletionModel, error) {
	var m model.CompletionModel
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, nickname, family, token_limit, vision, base_url
		 FROM completion_models WHERE id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.Nickname, &m.Family, &m.TokenLimit, &m.Vision, &m.BaseURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CompletionModel{}, fmt.Errorf("storage: completion model %s: %w", id, ErrNotFound)
		}
		return model.CompletionModel{}, fmt.Errorf("storage: get completion model: %w", err)
	}
	return m, nil
}

// ListCompletionModels returns all configured completion models.
func (db *DB) ListCompletionModels(ctx context.Context) ([]model.CompletionModel, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, nickname, family, token_limit, vision, base_url
		 FROM completion_models ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list completion models: %w", err)
	}
	defer rows.Close()

	var models []model.CompletionModel
	for rows.Next() {
		var m model.CompletionModel
		if err := rows.Scan(&m.ID, &m.Name, &m.Nickname, &m.Family, &m.TokenLimit, &m.Vision, &m.BaseURL); err != nil {
			return nil, fmt.Errorf("storage: scan completion model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}
