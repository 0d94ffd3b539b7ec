package turn

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sonia-labs/turngate/breaker"
	"github.com/sonia-labs/turngate/budget"
	"github.com/sonia-labs/turngate/clients"
	"github.com/sonia-labs/turngate/dlq"
	"github.com/sonia-labs/turngate/fallback"
	"github.com/sonia-labs/turngate/queue"
	"github.com/sonia-labs/turngate/ratelimit"
	"github.com/sonia-labs/turngate/retrytaxonomy"
	"github.com/sonia-labs/turngate/session"
	"github.com/sonia-labs/turngate/telemetry"
	"github.com/sonia-labs/turngate/toolpolicy"
)

// Config tunes the pipeline's per-stage timeouts and bounds, matching the
// defaults named in spec.md §4.1 and §5.
type Config struct {
	MemoryRecallTimeout     time.Duration
	ModelCallTimeout        time.Duration
	ToolCallTimeout         time.Duration
	ConfirmationWaitTimeout time.Duration
	TurnBudget              time.Duration
	MinToolIterations       int
	MaxToolIterations       int
	MaxToolWorkers          int
}

// DefaultConfig matches spec.md's named per-stage defaults.
func DefaultConfig() Config {
	return Config{
		MemoryRecallTimeout:     500 * time.Millisecond,
		ModelCallTimeout:        20 * time.Second,
		ToolCallTimeout:         5 * time.Second,
		ConfirmationWaitTimeout: 120 * time.Second,
		TurnBudget:              60 * time.Second,
		MinToolIterations:       1,
		MaxToolIterations:       5,
		MaxToolWorkers:          4,
	}
}

// Deps bundles every component the pipeline depends on, per the dependency
// flow in spec.md §2: the Turn Pipeline sits atop everything else.
type Deps struct {
	Sessions   *session.Manager
	Limiter    *ratelimit.Limiter
	Breakers   *breaker.Registry
	Classifier *toolpolicy.Classifier
	Gate       *toolpolicy.Gate
	Budget     *budget.Governor
	DLQ        *dlq.Queue
	Queue      *queue.Queue
	Model      *clients.ModelRouter
	Memory     *clients.MemoryEngine
	Tools      *clients.ToolExecutor
	Rec        *telemetry.Recorder
}

// Pipeline drives a single turn to completion.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New constructs a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Rec == nil {
		deps.Rec = telemetry.NewNoopRecorder()
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// retryBackoffUnit is the unit delay multiplied by a failure class's
// backoff base; the class-specific multiplier itself lives in
// retrytaxonomy.PolicyFor.
const retryBackoffUnit = 500 * time.Millisecond

// Run drives in through admission, memory recall, model routing, the
// tool-call loop, memory write, and normalization, strictly in that order.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	start := time.Now()

	// --- Stage 1: admission ---
	if res := p.deps.Limiter.Allow(ctx, in.ClientID); !res.Allowed {
		return Result{}, &Error{
			Code: CodeRateLimited, Message: "rate limit exceeded",
			Details: map[string]any{"retry_after_seconds": res.RetryAfter.Seconds()},
		}
	}

	if _, err := p.deps.Sessions.Get(in.SessionID); err != nil {
		return Result{}, newError(CodeSessionNotFound, "session not found")
	}

	if err := validateVisionFrames(in.VisionFrames); err != nil {
		return Result{}, err
	}
	if _, _, err := p.deps.Budget.EnforceCount("", budget.DimensionVisionFrames, len(in.VisionFrames)); err != nil {
		return Result{}, &Error{
			Code: CodeValidationFailed, Message: "too many vision frames attached to turn",
			Details: map[string]any{"reason": "FRAME_TOO_LARGE"},
		}
	}

	correlationID := in.CorrelationID
	if !telemetry.ValidCorrelationID(correlationID) {
		correlationID = telemetry.NewCorrelationID()
	}
	ctx = telemetry.WithCorrelationID(ctx, correlationID)

	turnCtx, done, err := p.deps.Sessions.RequestNewTurn(ctx, in.SessionID)
	if err != nil {
		return Result{}, newError(CodeSessionNotFound, "session not found")
	}
	defer done()

	turnCtx, cancelBudget := context.WithTimeout(turnCtx, p.cfg.turnBudget())
	defer cancelBudget()

	turnID := "turn_" + uuid.NewString()
	_ = p.deps.Sessions.Touch(turnCtx, in.SessionID)

	result := Result{TurnID: turnID, CorrelationID: correlationID, State: StateThinking}

	// --- Stage 2: memory recall (non-fatal) ---
	memStart := time.Now()
	retrievedContext := p.recallMemory(turnCtx, in, turnID, correlationID)
	result.Latency.MemoryReadMs = elapsedMs(memStart)
	result.Memory.RetrievedCount = len(retrievedContext)

	if cancelled(turnCtx) {
		return p.cancelledResult(in.SessionID, turnID, correlationID, start), nil
	}

	joinedContext := joinMemory(retrievedContext)
	joinedContext, _, _ = p.deps.Budget.EnforceContext(turnID, joinedContext)

	// --- Stage 3: model call, with circuit breaker + retry taxonomy ---
	modelStart := time.Now()
	messages := buildMessages(in, joinedContext)
	modelResp, fellBack, cancelledDuringCall, quality := p.callModelWithRetry(turnCtx, in, messages, turnID, correlationID)
	result.Latency.ModelMs = elapsedMs(modelStart)
	result.Quality = quality

	if cancelledDuringCall {
		return p.cancelledResult(in.SessionID, turnID, correlationID, start), nil
	}

	assistantText := modelResp.Response
	toolCalls := modelResp.ToolCalls

	// --- Stage 4: bounded tool-call loop ---
	var executed []ExecutedToolCall
	if !fellBack && len(toolCalls) > 0 {
		if cancelled(turnCtx) {
			return p.cancelledResult(in.SessionID, turnID, correlationID, start), nil
		}
		toolStart := time.Now()
		executed, assistantText, result.Quality = p.runToolLoop(turnCtx, in, messages, toolCalls, turnID, correlationID, result.Quality)
		result.Latency.ToolMs = elapsedMs(toolStart)
	}
	result.ToolCalls = executed

	if cancelled(turnCtx) {
		return p.cancelledResult(in.SessionID, turnID, correlationID, start), nil
	}

	// --- Stage 5: memory write (best-effort) ---
	if !fellBack {
		result.Memory.Written = p.writeMemory(turnCtx, in, assistantText, correlationID)
	}

	// --- Stage 6: normalization ---
	assistantText = controlChars.ReplaceAllString(assistantText, "")
	assistantText, truncated, _ := p.deps.Budget.EnforceText(turnID, assistantText)
	result.AssistantText = assistantText
	if result.Quality.CompletionReason == "" {
		if truncated {
			result.Quality.CompletionReason = "truncated"
		} else {
			result.Quality.CompletionReason = "complete"
		}
	}
	result.State = StateComplete
	result.DurationMs = elapsedMs(start)
	result.Latency.TotalMs = result.DurationMs

	p.deps.Rec.Emit(turnCtx, telemetry.Event{
		CorrelationID: correlationID, SessionID: in.SessionID, TurnID: turnID,
		Stage: "turn", Name: "turn_complete", Timestamp: time.Now().UTC(),
		Fields: map[string]any{"completion_reason": result.Quality.CompletionReason},
	})

	return result, nil
}

func (c Config) turnBudget() time.Duration {
	if c.TurnBudget <= 0 {
		return DefaultConfig().TurnBudget
	}
	return c.TurnBudget
}

func (p *Pipeline) recallMemory(ctx context.Context, in Input, turnID, correlationID string) []clients.MemoryResult {
	if p.deps.Memory == nil {
		return nil
	}
	recallCtx, cancel := context.WithTimeout(ctx, p.timeoutOr(p.cfg.MemoryRecallTimeout, DefaultConfig().MemoryRecallTimeout))
	defer cancel()

	resp, err := p.deps.Memory.Search(recallCtx, clients.MemorySearchRequest{
		SessionID: in.SessionID, Query: in.Text, TopK: 8, CorrelationID: correlationID,
	})
	if err != nil {
		p.deps.Rec.Emit(ctx, telemetry.Event{
			CorrelationID: correlationID, SessionID: in.SessionID, TurnID: turnID,
			Stage: "turn", Name: "memory_recall_failed", Timestamp: time.Now().UTC(),
			Fields: map[string]any{"error": err.Error()},
		})
		return nil
	}
	allowed, _, _ := p.deps.Budget.EnforceCount(turnID, budgetDimensionMemoryEntries, len(resp.Results))
	if allowed < len(resp.Results) {
		resp.Results = resp.Results[len(resp.Results)-allowed:]
	}
	return resp.Results
}

func (p *Pipeline) writeMemory(ctx context.Context, in Input, assistantText, correlationID string) bool {
	if p.deps.Memory == nil {
		return false
	}
	_, err := p.deps.Memory.Store(ctx, clients.MemoryStoreRequest{
		SessionID: in.SessionID, Content: assistantText, CorrelationID: correlationID,
	})
	return err == nil
}

// callModelWithRetry returns (response, fellBack, turnCancelled, quality).
// turnCancelled short-circuits the caller before any fallback envelope or
// DLQ letter is built: a turn cancelled mid-call (barge-in) must not
// produce fallback/DLQ side effects, per the cancelled-turn invariant.
func (p *Pipeline) callModelWithRetry(ctx context.Context, in Input, messages []clients.Message, turnID, correlationID string) (clients.ModelResponse, bool, bool, Quality) {
	quality := Quality{GenerationProfileUsed: in.TaskType}
	attempt := 0
	for {
		if cancelled(ctx) {
			return clients.ModelResponse{}, false, true, quality
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeoutOr(p.cfg.ModelCallTimeout, DefaultConfig().ModelCallTimeout))
		resp, err := p.deps.Breakers.Call(callCtx, "model_router", func(c context.Context) (any, error) {
			if p.deps.Model == nil {
				return nil, errors.New("turn: no model router client configured")
			}
			return p.deps.Model.Chat(c, clients.ModelRequest{
				Messages: messages, TaskType: in.TaskType, CorrelationID: correlationID,
			})
		})
		cancel()
		if err == nil {
			return resp.(clients.ModelResponse), false, false, quality
		}

		if cancelled(ctx) {
			return clients.ModelResponse{}, false, true, quality
		}

		fc := retrytaxonomy.Classify(retrytaxonomy.Input{Err: err})
		if retrytaxonomy.IsRetryable(fc) && attempt < retrytaxonomy.MaxRetries(fc) {
			time.Sleep(retrytaxonomy.Backoff(fc, attempt+1, retryBackoffUnit))
			attempt++
			continue
		}

		trigger := fallback.TriggerRouterError
		if fc == retrytaxonomy.CircuitOpen {
			trigger = fallback.TriggerRouterUnavailable
		}
		env := fallback.New(trigger, err.Error(), correlationID, fallback.DefaultResponseText)
		p.deps.DLQ.Enqueue(ctx, dlq.Letter{
			CorrelationID: correlationID, ActionType: "model_call",
			FailureClass: fc, RetryCount: attempt,
			Payload: map[string]any{"session_id": in.SessionID, "turn_id": turnID},
		})
		quality.FallbackUsed = true
		quality.CompletionReason = "fallback"
		return clients.ModelResponse{Response: env.Response}, true, false, quality
	}
}

// cancelled reports whether ctx was cancelled by barge-in specifically,
// as distinct from a per-stage or turn-budget deadline expiring: the two
// have different terminal states (StateCancelled vs. the existing
// timeout/fallback handling) per spec.md §5.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (p *Pipeline) cancelledResult(sessionID, turnID, correlationID string, start time.Time) Result {
	p.deps.Rec.Emit(context.Background(), telemetry.Event{
		CorrelationID: correlationID, SessionID: sessionID, TurnID: turnID,
		Stage: "turn", Name: "turn_complete", Timestamp: time.Now().UTC(),
		Fields: map[string]any{"completion_reason": "cancelled"},
	})
	return Result{
		TurnID: turnID, CorrelationID: correlationID,
		State:      StateCancelled,
		Quality:    Quality{CompletionReason: "cancelled"},
		DurationMs: elapsedMs(start),
	}
}

const budgetDimensionMemoryEntries = budget.DimensionMemoryEntries

// maxVisionFrameBytes bounds a single vision frame's encoded size.
const maxVisionFrameBytes = 4 * 1024 * 1024

var allowedVisionMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// validateVisionFrames checks every frame's mime type and byte budget
// concurrently via errgroup, one goroutine per frame with no worker limit;
// the first violation found wins.
func validateVisionFrames(frames []VisionFrame) error {
	if len(frames) == 0 {
		return nil
	}
	var g errgroup.Group
	for i := range frames {
		f := frames[i]
		g.Go(func() error {
			if !allowedVisionMIMETypes[f.MIMEType] {
				return &Error{
					Code: CodeValidationFailed, Message: "unsupported vision frame mime type",
					Details: map[string]any{"reason": "FRAME_TOO_LARGE", "mime_type": f.MIMEType},
				}
			}
			if len(f.Data) > maxVisionFrameBytes {
				return &Error{
					Code: CodeValidationFailed, Message: "vision frame exceeds byte budget",
					Details: map[string]any{"reason": "FRAME_TOO_LARGE", "size": len(f.Data)},
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) timeoutOr(v, deflt time.Duration) time.Duration {
	if v <= 0 {
		return deflt
	}
	return v
}

func buildMessages(in Input, context string) []clients.Message {
	msgs := make([]clients.Message, 0, 2)
	if context != "" {
		msgs = append(msgs, clients.Message{Role: "system", Content: context})
	}
	msgs = append(msgs, clients.Message{Role: "user", Content: in.Text})
	return msgs
}

func joinMemory(results []clients.MemoryResult) string {
	var sb []byte
	for i, r := range results {
		if i > 0 {
			sb = append(sb, '\n')
		}
		sb = append(sb, r.Content...)
	}
	return string(sb)
}

// runToolLoop drives the bounded tool-call loop: each iteration executes
// the model's requested tool calls (concurrently, bounded by
// cfg.MaxToolWorkers), classifying each through the Tool Policy, then
// (if the model requested further calls from the tool results) issues
// another model call, up to MaxToolIterations.
func (p *Pipeline) runToolLoop(ctx context.Context, in Input, messages []clients.Message, calls []clients.ToolCall, turnID, correlationID string, quality Quality) ([]ExecutedToolCall, string, Quality) {
	maxIter := p.cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultConfig().MaxToolIterations
	}

	var executed []ExecutedToolCall
	assistantText := ""
	iteration := 0

	for len(calls) > 0 && iteration < maxIter {
		if cancelled(ctx) {
			quality.CompletionReason = "cancelled"
			return executed, assistantText, quality
		}
		iteration++
		allowed, _, err := p.deps.Budget.EnforceCount(turnID, budget.DimensionToolCalls, len(calls))
		if err != nil {
			break
		}
		if allowed < len(calls) {
			calls = calls[:allowed]
		}
		quality.ToolCallsAttempted += len(calls)

		results := p.dispatchToolCalls(ctx, in, calls, turnID, correlationID)
		executed = append(executed, results...)
		for _, r := range results {
			if r.Status == "executed" {
				quality.ToolCallsExecuted++
			}
		}

		nextMessages := appendToolResults(messages, results)
		resp, fellBack, turnCancelled, _ := p.callModelWithRetry(ctx, in, nextMessages, turnID, correlationID)
		if turnCancelled {
			quality.CompletionReason = "cancelled"
			return executed, assistantText, quality
		}
		if fellBack {
			quality.FallbackUsed = true
			return executed, resp.Response, quality
		}
		messages = nextMessages
		assistantText = resp.Response
		calls = resp.ToolCalls
	}
	return executed, assistantText, quality
}

func appendToolResults(messages []clients.Message, results []ExecutedToolCall) []clients.Message {
	out := make([]clients.Message, len(messages), len(messages)+len(results))
	copy(out, messages)
	for _, r := range results {
		out = append(out, clients.Message{Role: "tool", Content: r.Status})
	}
	return out
}

func (p *Pipeline) dispatchToolCalls(ctx context.Context, in Input, calls []clients.ToolCall, turnID, correlationID string) []ExecutedToolCall {
	results := make([]ExecutedToolCall, len(calls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxToolWorkers())

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			r := p.dispatchOneTool(gctx, in, call, turnID, correlationID)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) maxToolWorkers() int {
	if p.cfg.MaxToolWorkers <= 0 {
		return DefaultConfig().MaxToolWorkers
	}
	return p.cfg.MaxToolWorkers
}

func (p *Pipeline) dispatchOneTool(ctx context.Context, in Input, call clients.ToolCall, turnID, correlationID string) ExecutedToolCall {
	classification := p.deps.Classifier.Classify(ctx, call.Name)
	switch classification {
	case toolpolicy.Blocked:
		return ExecutedToolCall{Name: call.Name, Args: call.Args, Status: "blocked"}
	case toolpolicy.GuardedWrite:
		return p.dispatchGuardedTool(ctx, in, call, turnID, correlationID)
	default: // SafeRead
		return p.executeTool(ctx, call)
	}
}

func (p *Pipeline) dispatchGuardedTool(ctx context.Context, in Input, call clients.ToolCall, turnID, correlationID string) ExecutedToolCall {
	req, err := p.deps.Gate.Require(ctx, in.SessionID, turnID, call.Name, call.Args, "guarded_write")
	if err != nil {
		return ExecutedToolCall{Name: call.Name, Args: call.Args, Status: "confirmation_rejected"}
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.timeoutOr(p.cfg.ConfirmationWaitTimeout, DefaultConfig().ConfirmationWaitTimeout))
	defer cancel()

	state, err := p.deps.Gate.Await(waitCtx, req.ID)
	if err != nil || state != toolpolicy.Approved {
		return ExecutedToolCall{Name: call.Name, Args: call.Args, Status: "confirmation_" + string(state)}
	}

	if err := p.deps.Gate.ValidateExecution(ctx, req.ID); err != nil {
		return ExecutedToolCall{Name: call.Name, Args: call.Args, Status: "confirmation_bypass"}
	}
	return p.executeTool(ctx, call)
}

func (p *Pipeline) executeTool(ctx context.Context, call clients.ToolCall) ExecutedToolCall {
	callCtx, cancel := context.WithTimeout(ctx, p.timeoutOr(p.cfg.ToolCallTimeout, DefaultConfig().ToolCallTimeout))
	defer cancel()

	resp, err := p.deps.Breakers.Call(callCtx, "tool_executor", func(c context.Context) (any, error) {
		return p.deps.Tools.Execute(c, clients.ToolExecuteRequest{ToolName: call.Name, Args: call.Args})
	})
	if err != nil {
		return ExecutedToolCall{Name: call.Name, Args: call.Args, Status: "error", Result: err.Error()}
	}
	execResp := resp.(clients.ToolExecuteResponse)
	return ExecutedToolCall{Name: call.Name, Args: call.Args, Status: "executed", Result: execResp.Result}
}
