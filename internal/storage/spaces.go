package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kotoba/internal/model"
)

// CreateSpace inserts a new space. A nil OwnerID makes a shared space.
func (db *DB) CreateSpace(ctx context.Context, space model.Space) (model.Space, error) {
	if space.ID == uuid.Nil {
		space.ID = uuid.New()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO spaces (id, tenant_id, owner_id, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		space.ID, space.TenantID, space.OwnerID, space.Name,
	)
	if err != nil {
		return model.Space{}, fmt.Errorf("storage: create space: %w", err)
	}
	return space, nil
}

// GetSpace retrieves a space with its member roles.
func (db *DB) GetSpace(ctx context.Context, id uuid.UUID) (model.Space, error) {
	var space model.Space
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, owner_id, name FROM spaces WHERE id = $1`, id,
	).Scan(&space.ID, &space.TenantID, &space.OwnerID, &space.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Space{}, fmt.Errorf("storage: space %s: %w", id, ErrNotFound)
		}
		return model.Space{}, fmt.Errorf("storage: get space: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT user_id, role FROM space_members WHERE space_id = $1`, id,
	)
	if err != nil {
		return model.Space{}, fmt.Errorf("storage: get space members: %w", err)
	}
	defer rows.Close()

	space.Members = make(map[uuid.UUID]model.SpaceRole)
	for rows.Next() {
		var userID uuid.UUID
		var role model.SpaceRole
		if err := rows.Scan(&userID, &role); err != nil {
			return model.Space{}, fmt.Errorf("storage: scan space member: %w", err)
		}
		space.Members[userID] = role
	}
	if err := rows.Err(); err != nil {
		return model.Space{}, fmt.Errorf("storage: iterate space members: %w", err)
	}

	return space, nil
}

// ListSpacesForUser returns spaces the user belongs to, personal space first,
// then by name.
func (db *DB) ListSpacesForUser(ctx context.Context, userID uuid.UUID) ([]model.Space, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT s.id, s.tenant_id, s.owner_id, s.name
		 FROM spaces s
		 LEFT JOIN space_members m ON m.space_id = s.id
		 WHERE s.owner_id = $1 OR m.user_id = $1
		 ORDER BY s.owner_id NULLS LAST, s.name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list spaces: %w", err)
	}
	defer rows.Close()

	var spaces []model.Space
	for rows.Next() {
		var s model.Space
		if err := rows.Scan(&s.ID, &s.TenantID, &s.OwnerID, &s.Name); err != nil {
			return nil, fmt.Errorf("storage: scan space: %w", err)
		}
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}

// UpsertSpaceMember adds a user to a space or updates their role.
func (db *DB) UpsertSpaceMember(ctx context.Context, spaceID, userID uuid.UUID, role model.SpaceRole) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO space_members (space_id, user_id, role, added_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (space_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		spaceID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert space member: %w", err)
	}
	return nil
}

// RemoveSpaceMember removes a user from a space.
func (db *DB) RemoveSpaceMember(ctx context.Context, spaceID, userID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM space_members WHERE space_id = $1 AND user_id = $2`,
		spaceID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: remove space member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: member %s in space %s: %w", userID, spaceID, ErrNotFound)
	}
	return nil
}

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, permissions, modules, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		user.ID, user.TenantID, user.Email, user.Permissions, user.Modules,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var user model.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, permissions, modules FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.TenantID, &user.Email, &user.Permissions, &user.Modules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email within a tenant.
func (db *DB) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (model.User, error) {
	var user model.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, permissions, modules
		 FROM users WHERE tenant_id = $1 AND email = $2`,
		tenantID, email,
	).Scan(&user.ID, &user.TenantID, &user.Email, &user.Permissions, &user.Modules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("storage: user %s: %w", email, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("storage: get user by email: %w", err)
	}
	return user, nil
}

// TouchUserPermissions replaces a user's tenant entitlements and modules.
// Authorization reads these on every request, so the update is effective
// immediately with no cache to invalidate.
func (db *DB) TouchUserPermissions(ctx context.Context, id uuid.UUID, permissions []model.Permission, modules []model.ModuleName) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET permissions = $2, modules = $3 WHERE id = $1`,
		id, permissions, modules,
	)
	if err != nil {
		return fmt.Errorf("storage: update user permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: user %s: %w", id, ErrNotFound)
	}
	return nil
}
