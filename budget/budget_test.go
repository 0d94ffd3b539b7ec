package budget

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnforceText_WithinCeilingIsUnchanged(t *testing.T) {
	t.Parallel()
	g := New(DefaultConfig(), 0)
	out, truncated, err := g.EnforceText("turn-1", "hello world")
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, "hello world", out)
}

func TestEnforceText_SentenceBoundaryTruncation(t *testing.T) {
	t.Parallel()
	cfg := Config{DimensionTextChars: {Ceiling: 15, Strategy: SentenceBoundary}}
	g := New(cfg, 0)
	out, truncated, err := g.EnforceText("turn-1", "Hello there. This keeps going past the ceiling.")
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, "Hello there.", out)
	require.LessOrEqual(t, len(out), 15)
}

func TestEnforceContext_HardCutTruncation(t *testing.T) {
	t.Parallel()
	cfg := Config{DimensionContextChars: {Ceiling: 5, Strategy: HardCut}}
	g := New(cfg, 0)
	out, truncated, err := g.EnforceContext("turn-1", "abcdefgh")
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, "abcde", out)
}

func TestEnforceCount_RejectStrategyFailsFast(t *testing.T) {
	t.Parallel()
	cfg := Config{DimensionToolCalls: {Ceiling: 5, Strategy: Reject}}
	g := New(cfg, 0)
	_, _, err := g.EnforceCount("turn-1", DimensionToolCalls, 6)
	require.ErrorIs(t, err, ErrRejected)
}

func TestEnforceCount_DropOldestClampsToCeiling(t *testing.T) {
	t.Parallel()
	cfg := Config{DimensionMemoryEntries: {Ceiling: 8, Strategy: DropOldest}}
	g := New(cfg, 0)
	allowed, truncated, err := g.EnforceCount("turn-1", DimensionMemoryEntries, 12)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, 8, allowed)
}

func TestRecentDecisions_IsBoundedByLogCap(t *testing.T) {
	t.Parallel()
	g := New(DefaultConfig(), 3)
	for i := 0; i < 10; i++ {
		_, _, _ = g.EnforceText("turn-1", "short")
	}
	decisions := g.RecentDecisions(100)
	require.Len(t, decisions, 3)
}
