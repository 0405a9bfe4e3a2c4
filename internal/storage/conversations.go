package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kotoba/internal/model"
)

// CreateSession inserts a new conversation session.
func (db *DB) CreateSession(ctx context.Context, session model.Session) (model.Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, space_id, user_id, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.SpaceID, session.UserID, session.Name, session.CreatedAt,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var s model.Session
	err := db.pool.QueryRow(ctx,
		`SELECT id, space_id, user_id, name, created_at FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.SpaceID, &s.UserID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// AppendMessage stores one completed turn of a session.
func (db *DB) AppendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, question, answer, attached_files, generated_files, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.SessionID, msg.Question, msg.Answer,
		msg.AttachedFiles, msg.GeneratedFiles, msg.CreatedAt,
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("storage: append message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns the most recent turns of a session in chronological
// order (oldest first). The newest rows are selected, then reversed, so a
// limit smaller than the session length keeps the recent end of the thread.
func (db *DB) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, question, answer, attached_files, generated_files, created_at
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Question, &m.Answer,
			&m.AttachedFiles, &m.GeneratedFiles, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate messages: %w", err)
	}

	// Reverse newest-first to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteSession removes a session and its messages.
func (db *DB) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
	}
	return nil
}
