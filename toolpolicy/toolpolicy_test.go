package toolpolicy

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func testLists() AllowLists {
	return AllowLists{
		SafeRead:     []string{"get_weather", "list_files"},
		GuardedWrite: []string{"send_email", "delete_file"},
	}
}

func TestClassify_SafeRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := NewClassifier(ctx, testLists())
	require.NoError(t, err)
	require.Equal(t, SafeRead, c.Classify(ctx, "get_weather"))
}

func TestClassify_GuardedWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := NewClassifier(ctx, testLists())
	require.NoError(t, err)
	require.Equal(t, GuardedWrite, c.Classify(ctx, "send_email"))
}

func TestClassify_UnknownToolIsBlockedByDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := NewClassifier(ctx, testLists())
	require.NoError(t, err)
	require.Equal(t, Blocked, c.Classify(ctx, "rm_rf_slash"))
}

func TestGate_RequireApproveValidateExecution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 0)

	req, err := g.Require(ctx, "sess1", "turn1", "send_email", map[string]any{"to": "a@b.com"}, "medium")
	require.NoError(t, err)
	require.Equal(t, Pending, req.State)

	dec := g.Approve(ctx, req.ID)
	require.True(t, dec.OK)
	require.Equal(t, Approved, dec.Status)
	require.False(t, dec.Idempotent)

	err = g.ValidateExecution(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), g.BypassAttempts())
}

func TestGate_DenyBlocksExecution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 0)

	req, err := g.Require(ctx, "sess1", "turn1", "delete_file", nil, "high")
	require.NoError(t, err)

	dec := g.Deny(ctx, req.ID)
	require.True(t, dec.OK)
	require.Equal(t, Denied, dec.Status)

	err = g.ValidateExecution(ctx, req.ID)
	var bypassErr *BypassError
	require.ErrorAs(t, err, &bypassErr)
	require.Equal(t, Denied, bypassErr.ObservedState)
	require.Equal(t, int64(1), g.BypassAttempts())
	require.Equal(t, int64(1), g.BypassAttemptsForSession("sess1"))
}

func TestGate_ApproveIsIdempotentAfterFirstDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 0)

	req, err := g.Require(ctx, "sess1", "turn1", "delete_file", nil, "high")
	require.NoError(t, err)

	g.Deny(ctx, req.ID)
	dec := g.Approve(ctx, req.ID)
	require.True(t, dec.OK)
	require.True(t, dec.Idempotent)
	require.Equal(t, Denied, dec.Status)
}

func TestGate_ExecutingTwiceIsBypassOnSecondAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 0)

	req, err := g.Require(ctx, "sess1", "turn1", "delete_file", nil, "high")
	require.NoError(t, err)
	g.Approve(ctx, req.ID)

	require.NoError(t, g.ValidateExecution(ctx, req.ID))
	err = g.ValidateExecution(ctx, req.ID)
	var bypassErr *BypassError
	require.ErrorAs(t, err, &bypassErr)
	require.Equal(t, Executed, bypassErr.ObservedState)
}

func TestGate_UnknownRequirementIsBypass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 0)

	err := g.ValidateExecution(ctx, "conf_does_not_exist")
	var bypassErr *BypassError
	require.ErrorAs(t, err, &bypassErr)
	require.Equal(t, int64(1), g.BypassAttempts())
}

func TestGate_MaxPendingPerSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 1)

	_, err := g.Require(ctx, "sess1", "turn1", "delete_file", nil, "high")
	require.NoError(t, err)

	_, err = g.Require(ctx, "sess1", "turn2", "delete_file", nil, "high")
	require.ErrorIs(t, err, ErrMaxPending)
}

func TestGate_SweepExpiresStalePendingRequirements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewGate(nil, nil, 0)

	req, err := g.Require(ctx, "sess1", "turn1", "delete_file", nil, "high")
	require.NoError(t, err)

	g.mu.Lock()
	g.requirements[req.ID].ExpiresAt = time.Now().Add(-time.Second)
	g.mu.Unlock()

	g.sweepExpired()

	dec := g.Approve(ctx, req.ID)
	require.True(t, dec.OK)
	require.True(t, dec.Idempotent)
	require.Equal(t, Expired, dec.Status)
}

// TestBypassAttemptsStayZeroUnderProperApprovalDiscipline verifies that for
// any population of requirements where every approved requirement is
// executed at most once and every denied requirement is never executed,
// the bypass counter never increments.
func TestBypassAttemptsStayZeroUnderProperApprovalDiscipline(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("proper approve/execute or deny/skip never trips bypass", prop.ForAll(
		func(approveFlags []bool) bool {
			ctx := context.Background()
			g := NewGate(nil, nil, 0)
			for i, approve := range approveFlags {
				req, err := g.Require(ctx, "sessN", "turnN", "delete_file", nil, "high")
				if err != nil {
					return false
				}
				if approve {
					g.Approve(ctx, req.ID)
					if err := g.ValidateExecution(ctx, req.ID); err != nil {
						return false
					}
				} else {
					g.Deny(ctx, req.ID)
				}
				_ = i
			}
			return g.BypassAttempts() == 0
		},
		gen.SliceOfN(50, gen.Bool()),
	))

	properties.TestingRun(t)
}
