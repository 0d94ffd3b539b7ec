// Package breaker implements the per-backend Circuit Breaker Registry: one
// breaker per named backend (model-router, memory, tool, perception),
// layered under — not inside — the retry taxonomy. The registry owns state
// transitions and structured transition events; retry policy selection is
// the Turn Pipeline's job, driven by retrytaxonomy.Classify.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sonia-labs/turngate/telemetry"
)

// ErrOpen wraps gobreaker's open-circuit rejection with a marker the
// retrytaxonomy package recognizes without importing this package.
type ErrOpen struct {
	Backend string
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("breaker: circuit open for backend %q", e.Backend)
}

// CircuitOpen satisfies retrytaxonomy's circuitOpenError duck-typed
// interface.
func (e *ErrOpen) CircuitOpen() bool { return true }

// Config is the per-breaker tuning, matching the defaults named in the
// spec: failure threshold 5, cooldown 30s, 2 consecutive half-open
// successes to close.
type Config struct {
	FailureThreshold  uint32
	Cooldown          time.Duration
	HalfOpenToClose   uint32
}

// DefaultConfig returns the spec-named defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenToClose: 2}
}

// State mirrors gobreaker's three-state machine under names matching §3 of
// the spec.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry owns one breaker per backend name, guarded by a private mutex
// for the backend-map itself; each gobreaker.CircuitBreaker is internally
// safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	cfg      map[string]Config
	rec      *telemetry.Recorder
	deflt    Config
}

// NewRegistry builds an empty Registry. Breakers are created lazily on
// each backend's first Call so callers don't need to know the full backend
// set upfront.
func NewRegistry(rec *telemetry.Recorder, deflt Config) *Registry {
	if rec == nil {
		rec = telemetry.NewNoopRecorder()
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		cfg:      make(map[string]Config),
		rec:      rec,
		deflt:    deflt,
	}
}

// Configure overrides the tuning for a specific backend before its breaker
// is first used.
func (r *Registry) Configure(backend string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg[backend] = cfg
}

func (r *Registry) breakerFor(backend string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[backend]; ok {
		return cb
	}
	cfg, ok := r.cfg[backend]
	if !ok {
		cfg = r.deflt
	}
	settings := gobreaker.Settings{
		Name:        backend,
		MaxRequests: cfg.HalfOpenToClose,
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.rec.Emit(context.Background(), telemetry.Event{
				Stage: "breaker", Name: "state_transition",
				Timestamp: time.Now().UTC(),
				Fields: map[string]any{
					"backend": name,
					"from":    string(fromGobreaker(from)),
					"to":      string(fromGobreaker(to)),
				},
			})
		},
	}
	cb := gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[backend] = cb
	return cb
}

// Call executes op through backend's breaker. A tripped breaker returns
// *ErrOpen without invoking op; any other error from op is passed through
// unwrapped so retrytaxonomy.Classify can inspect it.
func (r *Registry) Call(ctx context.Context, backend string, op func(ctx context.Context) (any, error)) (any, error) {
	cb := r.breakerFor(backend)
	result, err := cb.Execute(func() (any, error) {
		return op(ctx)
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return nil, &ErrOpen{Backend: backend}
	}
	return result, err
}

// Snapshot is the per-backend state exposed verbatim by the diagnostics
// endpoint.
type Snapshot struct {
	Backend             string `json:"backend"`
	State               State  `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// SnapshotAll returns the current state of every breaker created so far.
func (r *Registry) SnapshotAll() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for name, cb := range r.breakers {
		counts := cb.Counts()
		out = append(out, Snapshot{
			Backend:              name,
			State:                fromGobreaker(cb.State()),
			ConsecutiveFailures:  counts.ConsecutiveFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		})
	}
	return out
}
