package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kotoba/internal/model"
)

// CreateAPIKey inserts a new API key.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, tenant_id, name, prefix, key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.UserID, key.TenantID, key.Name, key.Prefix, key.KeyHash, key.CreatedAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return key, nil
}

// GetActiveAPIKeysByPrefix returns the non-revoked keys sharing a plaintext
// prefix. The prefix is an indexed pre-filter; the caller verifies the full
// key against each hash.
func (db *DB) GetActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, tenant_id, name, prefix, key_hash, created_at, last_used_at, revoked_at
		 FROM api_keys
		 WHERE prefix = $1 AND revoked_at IS NULL`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get api keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.TenantID, &k.Name, &k.Prefix,
			&k.KeyHash, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKeyUsed updates last_used_at. Called on successful authentication;
// failures only lose freshness, so the caller may ignore the error.
func (db *DB) TouchAPIKeyUsed(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: touch api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key revoked. Revocation is effective on the next
// authentication; outstanding JWTs minted from the key expire on their own.
func (db *DB) RevokeAPIKey(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
	}
	return nil
}
