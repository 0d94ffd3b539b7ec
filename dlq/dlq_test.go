package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sonia-labs/turngate/retrytaxonomy"
)

func TestEnqueue_EvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	q := New(2, nil, nil)
	ctx := context.Background()
	first := q.Enqueue(ctx, Letter{CorrelationID: "corr_1", FailureClass: retrytaxonomy.Timeout})
	q.Enqueue(ctx, Letter{CorrelationID: "corr_2", FailureClass: retrytaxonomy.Timeout})
	q.Enqueue(ctx, Letter{CorrelationID: "corr_3", FailureClass: retrytaxonomy.Timeout})

	_, found := q.Get(first.LetterID)
	require.False(t, found, "oldest letter should have been evicted")

	letters := q.List(0, 10)
	require.Len(t, letters, 2)
}

func TestList_ReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	ctx := context.Background()
	a := q.Enqueue(ctx, Letter{CorrelationID: "corr_a", FailureClass: retrytaxonomy.Timeout})
	time.Sleep(time.Millisecond)
	b := q.Enqueue(ctx, Letter{CorrelationID: "corr_b", FailureClass: retrytaxonomy.Timeout})

	letters := q.List(0, 10)
	require.Len(t, letters, 2)
	require.Equal(t, b.LetterID, letters[0].LetterID)
	require.Equal(t, a.LetterID, letters[1].LetterID)
}

func TestPolicyEngine_NonRetryableClassAlwaysRejected(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.PolicyDenied})

	result := p.Evaluate(letter)
	require.Equal(t, Reject, result.Verdict)
	require.Equal(t, ReasonFailureClassNonRetryable, result.RejectReason)
	require.Empty(t, result.SideEffects)
}

func TestPolicyEngine_UnknownClassAlwaysRejected(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Unknown})

	result := p.Evaluate(letter)
	require.Equal(t, Reject, result.Verdict)
	require.Equal(t, ReasonFailureClassNonRetryable, result.RejectReason)
	require.Empty(t, result.SideEffects)

	liveResult := p.EvaluateLive(letter)
	require.Equal(t, Reject, liveResult.Verdict)
	require.Equal(t, ReasonFailureClassNonRetryable, liveResult.RejectReason)
}

func TestPolicyEngine_DryRunIsIdempotent(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Timeout})

	r1 := p.Evaluate(letter)
	r2 := p.Evaluate(letter)
	require.Equal(t, r1.Verdict, r2.Verdict)
	require.Equal(t, r1.SideEffects, r2.SideEffects)
	require.Equal(t, r1.Detail, r2.Detail)
	require.Empty(t, r1.SideEffects)
}

func TestPolicyEngine_DryRunAndLiveDifferInSideEffects(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Timeout})

	dry := p.Evaluate(letter)
	live := p.EvaluateLive(letter)
	require.Equal(t, Accept, dry.Verdict)
	require.Equal(t, Accept, live.Verdict)
	require.NotEqual(t, dry.SideEffects, live.SideEffects)
	require.NotEmpty(t, live.SideEffects)
	require.Empty(t, dry.SideEffects)
}

func TestPolicyEngine_LiveRejectsAlreadyReplayed(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Timeout})

	first := p.EvaluateLive(letter)
	require.Equal(t, Accept, first.Verdict)
	p.Record(letter.LetterID, first)

	updated, ok := q.Get(letter.LetterID)
	require.True(t, ok)

	second := p.EvaluateLive(updated)
	require.Equal(t, Reject, second.Verdict)
	require.Equal(t, ReasonAlreadyReplayed, second.RejectReason)
}

func TestPolicyEngine_CircuitStillOpenRejectsLive(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, func(actionType string) bool { return true })
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Timeout, ActionType: "file.write"})

	result := p.EvaluateLive(letter)
	require.Equal(t, Reject, result.Verdict)
	require.Equal(t, ReasonCircuitStillOpen, result.RejectReason)
}

func TestPolicyEngine_BudgetExhausted(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 2, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Timeout, RetryCount: 5})

	result := p.Evaluate(letter)
	require.Equal(t, Reject, result.Verdict)
	require.Equal(t, ReasonBudgetExhausted, result.RejectReason)
}

func TestPolicyEngine_ManualBlock(t *testing.T) {
	t.Parallel()

	q := New(10, nil, nil)
	p := NewPolicyEngine(q, 3, 0, nil)
	letter := q.Enqueue(context.Background(), Letter{FailureClass: retrytaxonomy.Timeout})

	p.Block(letter.LetterID)
	result := p.Evaluate(letter)
	require.Equal(t, Reject, result.Verdict)
	require.Equal(t, ReasonManualBlock, result.RejectReason)

	p.Unblock(letter.LetterID)
	result = p.Evaluate(letter)
	require.Equal(t, Accept, result.Verdict)
}
