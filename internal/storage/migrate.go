package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// migrationLockID is an arbitrary advisory lock key. Multiple app instances
// starting against the same database serialize on it so a migration runs
// exactly once.
const migrationLockID = 7243_1001

// RunMigrations executes unapplied SQL migration files from the provided
// filesystem in lexical order. Applied migrations are tracked in a
// schema_migrations table. Forward-only; there is no down path.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("storage: acquire migration conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("storage: acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	names, err := pendingMigrations(ctx, db, migrationsFS)
	if err != nil {
		return err
	}

	for _, name := range names {
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		db.logger.Info("running migration", "file", name)

		// Statement and bookkeeping commit together, so a failed migration
		// is never recorded as applied.
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit migration %s: %w", name, err)
		}
	}

	return nil
}

// pendingMigrations lists .sql files not yet recorded in schema_migrations,
// sorted by filename.
func pendingMigrations(ctx context.Context, db *DB, migrationsFS fs.FS) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("storage: load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("storage: scan applied migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if applied[entry.Name()] {
			db.logger.Debug("migration already applied, skipping", "file", entry.Name())
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
