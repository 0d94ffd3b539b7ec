// Package budget implements the Output Budget Governor: per-dimension
// ceilings on a turn's output, each with its own truncation strategy, plus
// a bounded in-memory enforcement log for diagnostics.
package budget

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Dimension is a closed enum of the output axes the governor bounds.
type Dimension string

const (
	DimensionTextChars    Dimension = "text_chars"
	DimensionContextChars Dimension = "context_chars"
	DimensionToolCalls    Dimension = "tool_calls"
	DimensionVisionFrames Dimension = "vision_frames"
	DimensionMemoryEntries Dimension = "memory_entries"
)

// Strategy is the closed enum of truncation strategies.
type Strategy string

const (
	HardCut          Strategy = "HARD_CUT"
	SentenceBoundary Strategy = "SENTENCE_BOUNDARY"
	DropOldest       Strategy = "DROP_OLDEST"
	Reject           Strategy = "REJECT"
)

// Limit configures one dimension's ceiling and enforcement strategy.
type Limit struct {
	Ceiling  int
	Strategy Strategy
}

// Config maps every dimension to its Limit. DefaultConfig matches the
// example defaults named in the spec.
type Config map[Dimension]Limit

// DefaultConfig returns the governor defaults named in spec.md §4.6.
func DefaultConfig() Config {
	return Config{
		DimensionTextChars:     {Ceiling: 4000, Strategy: SentenceBoundary},
		DimensionContextChars:  {Ceiling: 7000, Strategy: HardCut},
		DimensionToolCalls:     {Ceiling: 5, Strategy: Reject},
		DimensionVisionFrames:  {Ceiling: 3, Strategy: Reject},
		DimensionMemoryEntries: {Ceiling: 8, Strategy: DropOldest},
	}
}

// ErrRejected is returned by Enforce when a REJECT-strategy dimension
// exceeds its ceiling.
var ErrRejected = errors.New("budget: dimension exceeded, rejected")

// Decision is one enforcement log entry.
type Decision struct {
	Dimension   Dimension
	Strategy    Strategy
	Ceiling     int
	Observed    int
	Truncated   bool
	Timestamp   time.Time
	TurnID      string
}

// Governor enforces Config against turn output and keeps a bounded
// enforcement log.
type Governor struct {
	mu      sync.Mutex
	cfg     Config
	log     []Decision
	logCap  int
}

// New constructs a Governor. logCap bounds the in-memory enforcement log
// (diagnostics); 0 selects a default of 200.
func New(cfg Config, logCap int) *Governor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logCap <= 0 {
		logCap = 200
	}
	return &Governor{cfg: cfg, logCap: logCap}
}

func (g *Governor) record(d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log = append(g.log, d)
	if len(g.log) > g.logCap {
		g.log = g.log[len(g.log)-g.logCap:]
	}
}

// RecentDecisions returns up to the last n enforcement decisions, newest
// last.
func (g *Governor) RecentDecisions(n int) []Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 || n > len(g.log) {
		n = len(g.log)
	}
	out := make([]Decision, n)
	copy(out, g.log[len(g.log)-n:])
	return out
}

// EnforceText applies the text_chars dimension's strategy to s, returning
// the (possibly truncated) string and whether truncation occurred.
func (g *Governor) EnforceText(turnID, s string) (string, bool, error) {
	return g.enforceString(turnID, DimensionTextChars, s)
}

// EnforceContext applies the context_chars dimension's strategy to s.
func (g *Governor) EnforceContext(turnID, s string) (string, bool, error) {
	return g.enforceString(turnID, DimensionContextChars, s)
}

func (g *Governor) enforceString(turnID string, dim Dimension, s string) (string, bool, error) {
	lim, ok := g.cfg[dim]
	if !ok || lim.Ceiling <= 0 || len(s) <= lim.Ceiling {
		g.record(Decision{Dimension: dim, Strategy: lim.Strategy, Ceiling: lim.Ceiling, Observed: len(s), TurnID: turnID, Timestamp: time.Now().UTC()})
		return s, false, nil
	}

	d := Decision{Dimension: dim, Strategy: lim.Strategy, Ceiling: lim.Ceiling, Observed: len(s), Truncated: true, TurnID: turnID, Timestamp: time.Now().UTC()}
	defer func() { g.record(d) }()

	switch lim.Strategy {
	case Reject:
		return "", false, ErrRejected
	case SentenceBoundary:
		return truncateAtSentenceBoundary(s, lim.Ceiling), true, nil
	default: // HARD_CUT and any unrecognized strategy fall back to byte truncation.
		return s[:lim.Ceiling], true, nil
	}
}

func truncateAtSentenceBoundary(s string, ceiling int) string {
	cut := s[:ceiling]
	if idx := strings.LastIndexAny(cut, ".!?"); idx >= 0 {
		return cut[:idx+1]
	}
	return cut
}

// EnforceCount applies a count-bounded dimension (tool_calls, vision_frames,
// memory_entries) to observed, returning the (possibly reduced) count and
// whether it was truncated. DROP_OLDEST is handled by the caller: this
// reports how many of the ordered collection's oldest entries to drop.
func (g *Governor) EnforceCount(turnID string, dim Dimension, observed int) (allowed int, truncated bool, err error) {
	lim, ok := g.cfg[dim]
	if !ok || lim.Ceiling <= 0 || observed <= lim.Ceiling {
		g.record(Decision{Dimension: dim, Strategy: lim.Strategy, Ceiling: lim.Ceiling, Observed: observed, TurnID: turnID, Timestamp: time.Now().UTC()})
		return observed, false, nil
	}

	d := Decision{Dimension: dim, Strategy: lim.Strategy, Ceiling: lim.Ceiling, Observed: observed, Truncated: true, TurnID: turnID, Timestamp: time.Now().UTC()}
	defer func() { g.record(d) }()

	if lim.Strategy == Reject {
		return 0, false, ErrRejected
	}
	return lim.Ceiling, true, nil
}
