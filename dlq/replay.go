package dlq

import (
	"fmt"
	"sync"
	"time"

	"github.com/sonia-labs/turngate/retrytaxonomy"
)

// Mode selects dry-run vs live replay semantics.
type Mode string

const (
	DryRun Mode = "dry_run"
	Live   Mode = "live"
)

// Verdict is the closed outcome of a replay evaluation.
type Verdict string

const (
	Accept Verdict = "ACCEPT"
	Reject Verdict = "REJECT"
	Skip   Verdict = "SKIP"
)

// RejectReason is the closed set of reasons a replay was rejected.
type RejectReason string

const (
	ReasonAlreadyReplayed           RejectReason = "ALREADY_REPLAYED"
	ReasonCircuitStillOpen          RejectReason = "CIRCUIT_STILL_OPEN"
	ReasonFailureClassNonRetryable  RejectReason = "FAILURE_CLASS_NON_RETRYABLE"
	ReasonCooldownActive            RejectReason = "COOLDOWN_ACTIVE"
	ReasonBudgetExhausted           RejectReason = "BUDGET_EXHAUSTED"
	ReasonManualBlock               RejectReason = "MANUAL_BLOCK"
)

// ReplayResult is one evaluation outcome, appended to a letter's replay
// history.
type ReplayResult struct {
	LetterID     string
	Mode         Mode
	Verdict      Verdict
	RejectReason RejectReason
	SideEffects  []string
	Detail       string
	EvaluatedAt  time.Time
}

// nonRetryableReplayClasses is the DLQ's own replay-eligibility gate,
// distinct from retrytaxonomy.IsRetryable (which governs live, in-turn
// retry and marks Unknown as retryable since an unrecognized error during
// a live call deserves one more attempt). A letter that reached the DLQ
// with an Unknown failure class already exhausted that one live retry, so
// replaying it again is never eligible. Mirrors the original replay
// policy's NON_RETRYABLE_FAILURE_CLASSES set.
var nonRetryableReplayClasses = map[retrytaxonomy.FailureClass]bool{
	retrytaxonomy.CircuitOpen:      true,
	retrytaxonomy.PolicyDenied:     true,
	retrytaxonomy.ValidationFailed: true,
	retrytaxonomy.Unknown:          true,
}

// CircuitOpenChecker reports whether the backend associated with a letter's
// action type currently has its breaker open, gating LIVE replay.
type CircuitOpenChecker func(actionType string) bool

// PolicyEngine evaluates dead letters for replay eligibility with
// mode-aware semantics: DRY_RUN never produces side effects and is
// idempotent; LIVE executes and consumes the letter.
type PolicyEngine struct {
	mu           sync.Mutex
	maxRetries   int
	cooldown     time.Duration
	manualBlocks map[string]bool
	circuitOpen  CircuitOpenChecker
	queue        *Queue
}

// NewPolicyEngine constructs a PolicyEngine. maxRetries <= 0 selects a
// default of 3 per the originating replay policy.
func NewPolicyEngine(q *Queue, maxRetries int, cooldown time.Duration, circuitOpen CircuitOpenChecker) *PolicyEngine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &PolicyEngine{
		maxRetries:   maxRetries,
		cooldown:     cooldown,
		manualBlocks: make(map[string]bool),
		circuitOpen:  circuitOpen,
		queue:        q,
	}
}

// Block marks a letter id as administratively blocked from replay until
// Unblock is called.
func (p *PolicyEngine) Block(letterID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manualBlocks[letterID] = true
}

// Unblock clears an administrative block.
func (p *PolicyEngine) Unblock(letterID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.manualBlocks, letterID)
}

func (p *PolicyEngine) isBlocked(letterID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manualBlocks[letterID]
}

func reject(letterID string, mode Mode, reason RejectReason, detail string) ReplayResult {
	return ReplayResult{
		LetterID: letterID, Mode: mode, Verdict: Reject, RejectReason: reason,
		SideEffects: []string{}, Detail: detail, EvaluatedAt: time.Now().UTC(),
	}
}

// Evaluate gates replay of letter under mode. DRY_RUN evaluation is a pure
// function of the letter's current state and produces no side effects and
// no replay-history mutation beyond the returned result being appended by
// the caller via Record; LIVE evaluation additionally checks
// already-replayed and circuit-open state and, on ACCEPT, is expected to be
// followed by the caller actually executing the action and calling Record.
func (p *PolicyEngine) Evaluate(letter Letter) ReplayResult {
	return p.evaluate(letter, DryRun)
}

// EvaluateLive evaluates letter for LIVE replay: same eligibility checks as
// Evaluate plus already-replayed and circuit-breaker gating, since LIVE
// actually executes and consumes the letter.
func (p *PolicyEngine) EvaluateLive(letter Letter) ReplayResult {
	return p.evaluate(letter, Live)
}

func (p *PolicyEngine) evaluate(letter Letter, mode Mode) ReplayResult {
	if p.isBlocked(letter.LetterID) {
		return reject(letter.LetterID, mode, ReasonManualBlock, "letter is administratively blocked")
	}

	if nonRetryableReplayClasses[letter.FailureClass] {
		return reject(letter.LetterID, mode, ReasonFailureClassNonRetryable,
			fmt.Sprintf("failure class %q is non-retryable", letter.FailureClass))
	}
	switch letter.FailureClass {
	case retrytaxonomy.ConnectionBootstrap, retrytaxonomy.Timeout, retrytaxonomy.ExecutionError, retrytaxonomy.Backpressure:
	default:
		return reject(letter.LetterID, mode, ReasonFailureClassNonRetryable,
			fmt.Sprintf("failure class %q is not a recognized failure class", letter.FailureClass))
	}

	if letter.RetryCount >= p.maxRetries {
		return reject(letter.LetterID, mode, ReasonBudgetExhausted,
			fmt.Sprintf("retry count %d exceeds max %d", letter.RetryCount, p.maxRetries))
	}

	if mode == Live {
		for _, h := range letter.ReplayHistory {
			if h.Mode == Live && h.Verdict == Accept {
				return reject(letter.LetterID, mode, ReasonAlreadyReplayed, "letter already replayed live")
			}
		}
		if p.circuitOpen != nil && p.circuitOpen(letter.ActionType) {
			return reject(letter.LetterID, mode, ReasonCircuitStillOpen, "backend circuit is still open")
		}
		if p.cooldown > 0 && time.Since(letter.CreatedAt) < p.cooldown {
			return reject(letter.LetterID, mode, ReasonCooldownActive, "letter is within its cooldown window")
		}
	}

	if mode == DryRun {
		return ReplayResult{
			LetterID: letter.LetterID, Mode: mode, Verdict: Accept,
			SideEffects: []string{}, Detail: "dry-run: validated without execution",
			EvaluatedAt: time.Now().UTC(),
		}
	}
	return ReplayResult{
		LetterID: letter.LetterID, Mode: mode, Verdict: Accept,
		SideEffects: []string{"action_executed", "dlq_entry_consumed", "audit_logged"},
		Detail:      "live: replay executed with side effects",
		EvaluatedAt: time.Now().UTC(),
	}
}

// Record appends result to the letter's durable replay history via the
// associated Queue.
func (p *PolicyEngine) Record(letterID string, result ReplayResult) {
	if p.queue != nil {
		p.queue.recordReplay(letterID, result)
	}
}
