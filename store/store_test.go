package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPersistSession_UpsertIsLastWriteWins(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	row := SessionRow{
		SessionID:      "sess-1",
		UserID:         "u1",
		ConversationID: "c1",
		Profile:        "tool-oriented",
		Status:         "active",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastActivity:   now,
		MetadataJSON:   "{}",
	}
	require.NoError(t, s.PersistSession(ctx, row))

	row.Status = "closed"
	row.LastActivity = now.Add(time.Minute)
	require.NoError(t, s.PersistSession(ctx, row))

	active, err := s.LoadActiveSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestLoadActiveSessions_ReturnsOnlyActive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.PersistSession(ctx, SessionRow{
		SessionID: "active-1", UserID: "u1", ConversationID: "c1", Profile: "chat",
		Status: "active", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivity: now,
		MetadataJSON: "{}",
	}))
	require.NoError(t, s.PersistSession(ctx, SessionRow{
		SessionID: "closed-1", UserID: "u1", ConversationID: "c2", Profile: "chat",
		Status: "closed", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivity: now,
		MetadataJSON: "{}",
	}))

	active, err := s.LoadActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "active-1", active[0].SessionID)
}

func TestIdempotencyKey_ExpiredIsAbsent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistIdempotencyKey(ctx, "key-1", "action-1", `{"ok":true}`, -time.Second))

	_, err := s.GetIdempotencyKey(ctx, "key-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIdempotencyKey_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistIdempotencyKey(ctx, "key-1", "action-1", `{"ok":true}`, time.Hour))

	entry, err := s.GetIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, "action-1", entry.ActionID)
	require.JSONEq(t, `{"ok":true}`, entry.ResultJSON)

	// Re-submission with a different action id replaces the binding
	// (last-write-wins).
	require.NoError(t, s.PersistIdempotencyKey(ctx, "key-1", "action-2", `{"ok":false}`, time.Hour))
	entry, err = s.GetIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, "action-2", entry.ActionID)
}

func TestPruneExpiredIdempotencyKeys(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PersistIdempotencyKey(ctx, "expired", "a1", "{}", -time.Second))
	require.NoError(t, s.PersistIdempotencyKey(ctx, "live", "a2", "{}", time.Hour))

	n, err := s.PruneExpiredIdempotencyKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetIdempotencyKey(ctx, "live")
	require.NoError(t, err)
}

func TestConfirmation_PendingRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.PersistSession(ctx, SessionRow{
		SessionID: "sess-1", UserID: "u1", ConversationID: "c1", Profile: "chat",
		Status: "active", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastActivity: now,
		MetadataJSON: "{}",
	}))
	require.NoError(t, s.PersistConfirmation(ctx, ConfirmationRow{
		RequirementID: "req-1", SessionID: "sess-1", TurnID: "turn-1",
		ToolName: "file.write", ArgsJSON: `{"path":"/tmp/x"}`, State: "pending",
		CreatedAt: now, ExpiresAt: now.Add(120 * time.Second),
	}))

	pending, err := s.LoadPendingConfirmations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "req-1", pending[0].RequirementID)

	pending[0].State = "approved"
	require.NoError(t, s.PersistConfirmation(ctx, pending[0]))

	stillPending, err := s.LoadPendingConfirmations(ctx)
	require.NoError(t, err)
	require.Empty(t, stillPending)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}
