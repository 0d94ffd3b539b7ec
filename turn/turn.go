// Package turn implements the Turn Pipeline: the component that drives a
// single turn through admission, memory recall, model routing, the
// tool-call loop, memory write, and normalization, in that strict order.
package turn

import "time"

// State is the turn's conversation-state enum.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateThinking   State = "thinking"
	StateTooling    State = "tooling"
	StateResponding State = "responding"
	StateComplete   State = "complete"
	StateCancelled  State = "cancelled"
)

// VisionFrame is one validated vision input attached to a turn.
type VisionFrame struct {
	MIMEType string
	Data     []byte
}

// Input is the caller-supplied request for one turn.
type Input struct {
	SessionID     string
	ClientID      string
	Text          string
	VisionFrames  []VisionFrame
	CorrelationID string
	TaskType      string
}

// Latency is the per-stage millisecond breakdown attached to a Result.
type Latency struct {
	MemoryReadMs int64
	ModelMs      int64
	ToolMs       int64
	TotalMs      int64
}

// Quality carries the turn's quality annotations.
type Quality struct {
	GenerationProfileUsed string
	FallbackUsed          bool
	ToolCallsAttempted    int
	ToolCallsExecuted     int
	CompletionReason      string
}

// Memory reports what the memory-recall/write stages observed.
type Memory struct {
	Written        bool
	RetrievedCount int
}

// Result is the outcome of one turn, shaped to become the HTTP response
// envelope verbatim.
type Result struct {
	TurnID        string
	CorrelationID string
	AssistantText string
	ToolCalls     []ExecutedToolCall
	Memory        Memory
	DurationMs    int64
	Latency       Latency
	Quality       Quality
	State         State
}

// ExecutedToolCall is one tool call and its outcome, surfaced on the
// response envelope.
type ExecutedToolCall struct {
	Name   string
	Args   map[string]any
	Status string
	Result any
}

func elapsedMs(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
