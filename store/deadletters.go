package store

import (
	"context"
	"fmt"
	"time"
)

// DeadLetterRow is the durable mirror of a Dead Letter. The in-memory DLQ
// ring buffer is authoritative for ordering and capacity; this table is a
// best-effort durable copy (Open Question (c): replay across restart is not
// strict).
type DeadLetterRow struct {
	LetterID          string    `db:"letter_id"`
	CorrelationID     string    `db:"correlation_id"`
	PayloadHash       string    `db:"payload_hash"`
	FailureClass      string    `db:"failure_class"`
	RetryCount        int       `db:"retry_count"`
	CreatedAt         time.Time `db:"created_at"`
	ReplayHistoryJSON string    `db:"replay_history_json"`
}

// PersistDeadLetter writes through a dead letter row, overwriting any prior
// row with the same id (used after a replay attempt updates the replay
// history).
func (s *Store) PersistDeadLetter(ctx context.Context, row DeadLetterRow) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO dead_letters (letter_id, correlation_id, payload_hash, failure_class, retry_count, created_at, replay_history_json)
		VALUES (:letter_id, :correlation_id, :payload_hash, :failure_class, :retry_count, :created_at, :replay_history_json)
		ON CONFLICT(letter_id) DO UPDATE SET
			retry_count = excluded.retry_count,
			replay_history_json = excluded.replay_history_json
	`, row)
	if err != nil {
		return fmt.Errorf("store: persist dead letter: %w", err)
	}
	return nil
}

// DeleteDeadLetter removes the durable mirror of a dead letter evicted from
// the in-memory ring buffer by FIFO eviction.
func (s *Store) DeleteDeadLetter(ctx context.Context, letterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE letter_id = ?`, letterID)
	if err != nil {
		return fmt.Errorf("store: delete dead letter: %w", err)
	}
	return nil
}

// LoadDeadLetters returns every durably mirrored dead letter in enqueue
// order, used to rehydrate the in-memory ring buffer on process start.
func (s *Store) LoadDeadLetters(ctx context.Context) ([]DeadLetterRow, error) {
	var rows []DeadLetterRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM dead_letters ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load dead letters: %w", err)
	}
	return rows, nil
}
