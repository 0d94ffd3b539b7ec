package store

import (
	"context"
	"fmt"
	"time"
)

// ConfirmationRow is the durable representation of a Confirmation
// Requirement row.
type ConfirmationRow struct {
	RequirementID string    `db:"requirement_id"`
	SessionID     string    `db:"session_id"`
	TurnID        string    `db:"turn_id"`
	ToolName      string    `db:"tool_name"`
	ArgsJSON      string    `db:"args_json"`
	State         string    `db:"state"`
	CreatedAt     time.Time `db:"created_at"`
	ExpiresAt     time.Time `db:"expires_at"`
}

// PersistConfirmation upserts a confirmation requirement row, mirroring the
// Confirmation Gate's in-memory state machine to durable storage on every
// transition.
func (s *Store) PersistConfirmation(ctx context.Context, row ConfirmationRow) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO confirmations (requirement_id, session_id, turn_id, tool_name, args_json, state, created_at, expires_at)
		VALUES (:requirement_id, :session_id, :turn_id, :tool_name, :args_json, :state, :created_at, :expires_at)
		ON CONFLICT(requirement_id) DO UPDATE SET state = excluded.state
	`, row)
	if err != nil {
		return fmt.Errorf("store: persist confirmation: %w", err)
	}
	return nil
}

// LoadPendingConfirmations returns every confirmation row still in the
// "pending" state, used to rehydrate the Confirmation Gate on process
// start.
func (s *Store) LoadPendingConfirmations(ctx context.Context) ([]ConfirmationRow, error) {
	var rows []ConfirmationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM confirmations WHERE state = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("store: load pending confirmations: %w", err)
	}
	return rows, nil
}
