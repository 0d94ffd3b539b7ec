package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SessionRow is the durable representation of a Session row.
type SessionRow struct {
	SessionID      string    `db:"session_id"`
	UserID         string    `db:"user_id"`
	ConversationID string    `db:"conversation_id"`
	Profile        string    `db:"profile"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastActivity   time.Time `db:"last_activity"`
	MetadataJSON   string    `db:"metadata_json"`
}

// Metadata decodes the row's free-form JSON metadata column.
func (r SessionRow) Metadata() (map[string]any, error) {
	if r.MetadataJSON == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.MetadataJSON), &m); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	return m, nil
}

// PersistSession upserts a session row: same id writes over the prior row
// (last-write-wins), matching the idempotency contract of the durable
// store.
func (s *Store) PersistSession(ctx context.Context, row SessionRow) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, conversation_id, profile, status, created_at, expires_at, last_activity, metadata_json)
		VALUES (:session_id, :user_id, :conversation_id, :profile, :status, :created_at, :expires_at, :last_activity, :metadata_json)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			expires_at = excluded.expires_at,
			last_activity = excluded.last_activity,
			metadata_json = excluded.metadata_json
	`, row)
	if err != nil {
		return fmt.Errorf("store: persist session: %w", err)
	}
	return nil
}

// LoadActiveSessions returns every session row whose status is "active",
// used to rehydrate the in-process Session table on process start.
func (s *Store) LoadActiveSessions(ctx context.Context) ([]SessionRow, error) {
	var rows []SessionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("store: load active sessions: %w", err)
	}
	return rows, nil
}

// TouchSession updates only the last_activity column, the best-effort
// async write issued on every turn admission.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE session_id = ?`, at, sessionID)
	if err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}
	return nil
}
