package store

import (
	"context"
	"fmt"
	"time"
)

// IdempotencyEntry is the decoded result of a successful idempotency-key
// lookup.
type IdempotencyEntry struct {
	ActionID   string
	ResultJSON string
}

type idempotencyRow struct {
	Key        string    `db:"key"`
	ActionID   string    `db:"action_id"`
	ResultJSON string    `db:"result_json"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// PersistIdempotencyKey stores or updates the binding for key. Calling this
// twice with the same key is last-write-wins, deterministic: the newest
// action id and result replace any prior binding.
func (s *Store) PersistIdempotencyKey(ctx context.Context, key, actionID, resultJSON string, ttl time.Duration) error {
	row := idempotencyRow{
		Key:        key,
		ActionID:   actionID,
		ResultJSON: resultJSON,
		ExpiresAt:  time.Now().Add(ttl),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO idempotency_keys (key, action_id, result_json, expires_at)
		VALUES (:key, :action_id, :result_json, :expires_at)
		ON CONFLICT(key) DO UPDATE SET
			action_id = excluded.action_id,
			result_json = excluded.result_json,
			expires_at = excluded.expires_at
	`, row)
	if err != nil {
		return fmt.Errorf("store: persist idempotency key: %w", err)
	}
	return nil
}

// GetIdempotencyKey returns the binding for key, or ErrNotFound if the key
// is absent or its TTL has lapsed. An expired key is treated identically to
// a missing one, allowing the caller to reuse it for a new action.
func (s *Store) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyEntry, error) {
	var row idempotencyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM idempotency_keys WHERE key = ?`, key)
	if err != nil {
		return IdempotencyEntry{}, ErrNotFound
	}
	if row.ExpiresAt.Before(time.Now()) {
		return IdempotencyEntry{}, ErrNotFound
	}
	return IdempotencyEntry{ActionID: row.ActionID, ResultJSON: row.ResultJSON}, nil
}

// PruneExpiredIdempotencyKeys deletes every key whose TTL has lapsed and
// returns the number removed.
func (s *Store) PruneExpiredIdempotencyKeys(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("store: prune idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune idempotency keys rows affected: %w", err)
	}
	return int(n), nil
}
