package toolpolicy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sonia-labs/turngate/store"
	"github.com/sonia-labs/turngate/telemetry"
)

// State is the lifecycle state of a Confirmation Requirement.
type State string

const (
	Pending  State = "pending"
	Approved State = "approved"
	Denied   State = "denied"
	Expired  State = "expired"
	Executed State = "executed"
)

// DefaultTTL is the requirement expiry window named in the spec.
const DefaultTTL = 120 * time.Second

// Requirement is a pending approval for a guarded tool action.
type Requirement struct {
	ID        string
	SessionID string
	TurnID    string
	ToolName  string
	Args      map[string]any
	RiskTier  string
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time
}

var (
	// ErrMaxPending is returned by Require when the session's pending
	// count would exceed the configured per-session limit.
	ErrMaxPending = errors.New("toolpolicy: max pending confirmations exceeded")
	// ErrBypass marks an attempt to execute a requirement that was never
	// validly approved.
	ErrBypass = errors.New("toolpolicy: confirmation bypass")
)

// BypassError reports an attempted execution of a requirement that has not
// been properly approved, carrying the observed state for diagnostics.
type BypassError struct {
	RequirementID string
	ObservedState State
}

func (e *BypassError) Error() string {
	return "toolpolicy: bypass attempt on requirement " + e.RequirementID + " in state " + string(e.ObservedState)
}

func (e *BypassError) Is(target error) bool { return target == ErrBypass }

// Decision is the result of an approve/deny call.
type Decision struct {
	OK         bool
	Status     State
	Idempotent bool
}

// Gate manages Confirmation Requirements. It is the only code path
// permitted to transition a guarded_write tool from requested to
// executed — no other component may bypass it.
type Gate struct {
	mu               sync.Mutex
	requirements     map[string]*Requirement
	pendingBySession map[string]int
	maxPending       int

	bypassGlobal   atomic.Int64
	bypassBySess   map[string]*atomic.Int64

	store *store.Store
	rec   *telemetry.Recorder

	stop    chan struct{}
	stopped chan struct{}
}

// NewGate constructs a Gate. maxPending <= 0 selects a default of 20.
func NewGate(db *store.Store, rec *telemetry.Recorder, maxPending int) *Gate {
	if maxPending <= 0 {
		maxPending = 20
	}
	if rec == nil {
		rec = telemetry.NewNoopRecorder()
	}
	return &Gate{
		requirements:     make(map[string]*Requirement),
		pendingBySession: make(map[string]int),
		maxPending:       maxPending,
		bypassBySess:     make(map[string]*atomic.Int64),
		store:            db,
		rec:              rec,
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
	}
}

// Rehydrate loads pending confirmations from the durable store on process
// start.
func (g *Gate) Rehydrate(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	rows, err := g.store.LoadPendingConfirmations(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, row := range rows {
		var args map[string]any
		_ = json.Unmarshal([]byte(row.ArgsJSON), &args)
		req := &Requirement{
			ID: row.RequirementID, SessionID: row.SessionID, TurnID: row.TurnID,
			ToolName: row.ToolName, Args: args, State: State(row.State),
			CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt,
		}
		g.requirements[req.ID] = req
		g.pendingBySession[req.SessionID]++
	}
	return nil
}

// Require mints a new pending Confirmation Requirement for a guarded tool
// call, failing with ErrMaxPending when the session's pending count would
// exceed the configured limit.
func (g *Gate) Require(ctx context.Context, sessionID, turnID, toolName string, args map[string]any, riskTier string) (*Requirement, error) {
	g.mu.Lock()
	if g.pendingBySession[sessionID] >= g.maxPending {
		g.mu.Unlock()
		return nil, ErrMaxPending
	}
	now := time.Now().UTC()
	req := &Requirement{
		ID: "conf_" + uuid.NewString(), SessionID: sessionID, TurnID: turnID,
		ToolName: toolName, Args: args, RiskTier: riskTier, State: Pending,
		CreatedAt: now, ExpiresAt: now.Add(DefaultTTL),
	}
	g.requirements[req.ID] = req
	g.pendingBySession[sessionID]++
	g.mu.Unlock()

	g.persist(ctx, req)
	g.rec.Emit(ctx, telemetry.Event{
		CorrelationID: telemetry.CorrelationIDFromContext(ctx),
		SessionID:     sessionID, TurnID: turnID, Stage: "toolpolicy", Name: "confirmation_required",
		Timestamp: now, Fields: map[string]any{"tool_name": toolName, "requirement_id": req.ID},
	})
	return cloneReq(req), nil
}

// Approve transitions a pending requirement to approved. The first call
// sticks; subsequent calls return the terminal status with
// Idempotent=true. An unknown id returns OK=false, Status="" (not_found
// semantics are the caller's to render as {ok:false, status:"not_found"}).
func (g *Gate) Approve(ctx context.Context, reqID string) Decision {
	return g.decide(ctx, reqID, Approved)
}

// Deny is symmetric to Approve.
func (g *Gate) Deny(ctx context.Context, reqID string) Decision {
	return g.decide(ctx, reqID, Denied)
}

func (g *Gate) decide(ctx context.Context, reqID string, to State) Decision {
	g.mu.Lock()
	req, ok := g.requirements[reqID]
	if !ok {
		g.mu.Unlock()
		return Decision{OK: false}
	}
	if req.State != Pending {
		status := req.State
		g.mu.Unlock()
		return Decision{OK: true, Status: status, Idempotent: true}
	}
	req.State = to
	g.pendingBySession[req.SessionID]--
	snapshot := cloneReq(req)
	g.mu.Unlock()

	g.persist(ctx, snapshot)
	return Decision{OK: true, Status: to}
}

// ValidateExecution consumes an approved requirement exactly once,
// transitioning it to executed. Any other observed state — pending,
// denied, expired, executed, or unknown — raises a *BypassError and
// increments the per-session and global bypass counters.
func (g *Gate) ValidateExecution(ctx context.Context, reqID string) error {
	g.mu.Lock()
	req, ok := g.requirements[reqID]
	if !ok {
		g.mu.Unlock()
		g.countBypass(ctx, "", reqID)
		return &BypassError{RequirementID: reqID, ObservedState: ""}
	}
	if req.State != Approved {
		observed := req.State
		sess := req.SessionID
		g.mu.Unlock()
		g.countBypass(ctx, sess, reqID)
		return &BypassError{RequirementID: reqID, ObservedState: observed}
	}
	req.State = Executed
	snapshot := cloneReq(req)
	g.mu.Unlock()

	g.persist(ctx, snapshot)
	return nil
}

func (g *Gate) countBypass(ctx context.Context, sessionID, reqID string) {
	g.bypassGlobal.Add(1)
	if sessionID != "" {
		g.mu.Lock()
		c, ok := g.bypassBySess[sessionID]
		if !ok {
			c = &atomic.Int64{}
			g.bypassBySess[sessionID] = c
		}
		g.mu.Unlock()
		c.Add(1)
	}
	g.rec.Emit(ctx, telemetry.Event{
		CorrelationID: telemetry.CorrelationIDFromContext(ctx),
		SessionID:     sessionID, Stage: "toolpolicy", Name: "confirmation_bypass_attempt",
		Timestamp: time.Now().UTC(), Fields: map[string]any{"requirement_id": reqID},
	})
}

// BypassAttempts returns the global bypass-attempt counter.
func (g *Gate) BypassAttempts() int64 { return g.bypassGlobal.Load() }

// BypassAttemptsForSession returns the per-session bypass-attempt counter.
func (g *Gate) BypassAttemptsForSession(sessionID string) int64 {
	g.mu.Lock()
	c, ok := g.bypassBySess[sessionID]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// AwaitDecisionPoll is the interval Await uses to poll requirement state.
const AwaitDecisionPoll = 250 * time.Millisecond

// Await blocks until reqID reaches a terminal state (approved, denied, or
// expired) or ctx is cancelled, whichever comes first. This is how the Turn
// Pipeline suspends a turn on a guarded_write tool call per spec.md §4.1.
func (g *Gate) Await(ctx context.Context, reqID string) (State, error) {
	t := time.NewTicker(AwaitDecisionPoll)
	defer t.Stop()
	for {
		g.mu.Lock()
		req, ok := g.requirements[reqID]
		var state State
		if ok {
			state = req.State
		}
		g.mu.Unlock()
		if !ok {
			return "", ErrBypass
		}
		if state != Pending {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return Pending, ctx.Err()
		case <-t.C:
		}
	}
}

// Pending lists pending requirements, optionally filtered to sessionID
// (empty string returns all sessions' pending requirements).
func (g *Gate) Pending(sessionID string) []Requirement {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Requirement
	for _, req := range g.requirements {
		if req.State != Pending {
			continue
		}
		if sessionID != "" && req.SessionID != sessionID {
			continue
		}
		out = append(out, *cloneReq(req))
	}
	return out
}

// Run starts the background sweep that expires stale pending requirements;
// expired requirements cannot subsequently be approved.
func (g *Gate) Run(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		defer close(g.stopped)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-t.C:
				g.sweepExpired()
			}
		}
	}()
}

// Shutdown stops the expiry sweep.
func (g *Gate) Shutdown() {
	close(g.stop)
	<-g.stopped
}

func (g *Gate) sweepExpired() {
	now := time.Now().UTC()
	g.mu.Lock()
	var expired []*Requirement
	for _, req := range g.requirements {
		if req.State == Pending && req.ExpiresAt.Before(now) {
			req.State = Expired
			g.pendingBySession[req.SessionID]--
			expired = append(expired, cloneReq(req))
		}
	}
	g.mu.Unlock()

	for _, req := range expired {
		g.persist(context.Background(), req)
	}
}

func (g *Gate) persist(ctx context.Context, req *Requirement) {
	if g.store == nil {
		return
	}
	argsJSON, err := json.Marshal(req.Args)
	if err != nil {
		return
	}
	row := store.ConfirmationRow{
		RequirementID: req.ID, SessionID: req.SessionID, TurnID: req.TurnID,
		ToolName: req.ToolName, ArgsJSON: string(argsJSON), State: string(req.State),
		CreatedAt: req.CreatedAt, ExpiresAt: req.ExpiresAt,
	}
	go func() { _ = g.store.PersistConfirmation(context.Background(), row) }()
	_ = ctx
}

func cloneReq(r *Requirement) *Requirement {
	cp := *r
	return &cp
}
