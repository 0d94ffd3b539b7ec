// Package httpapi implements the thin HTTP/RPC boundary: authentication,
// rate-limit admission, request/response envelope shaping, and routing to
// the Turn Pipeline and its supporting components, per spec.md §4.11/§6.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sonia-labs/turngate/turn"
)

// turnRequest is the wire shape of POST /v1/turn.
type turnRequest struct {
	SessionID     string            `json:"session_id"`
	ClientID      string            `json:"client_id"`
	Text          string            `json:"text"`
	VisionFrames  []visionFrameWire `json:"vision_frames,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	TaskType      string            `json:"task_type,omitempty"`
}

type visionFrameWire struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// errorWire is the {code,message,details} shape carried on every non-ok
// envelope, verbatim per spec.md §6/§7.
type errorWire struct {
	Code    turn.Code      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// turnResponse is the response envelope for a synchronous turn, matching
// spec.md §6 field-for-field.
type turnResponse struct {
	OK            bool           `json:"ok"`
	TurnID        string         `json:"turn_id,omitempty"`
	AssistantText string         `json:"assistant_text,omitempty"`
	ToolCalls     []toolCallWire `json:"tool_calls,omitempty"`
	Memory        memoryWire     `json:"memory"`
	DurationMs    int64          `json:"duration_ms"`
	Latency       latencyWire    `json:"latency"`
	Quality       qualityWire    `json:"quality"`
	Error         *errorWire     `json:"error,omitempty"`
}

type toolCallWire struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status"`
	Result any            `json:"result,omitempty"`
}

type memoryWire struct {
	Written        bool `json:"written"`
	RetrievedCount int  `json:"retrieved_count"`
}

type latencyWire struct {
	MemoryReadMs int64 `json:"memory_read_ms"`
	ModelMs      int64 `json:"model_ms"`
	ToolMs       int64 `json:"tool_ms"`
	TotalMs      int64 `json:"total_ms"`
}

type qualityWire struct {
	GenerationProfileUsed string `json:"generation_profile_used"`
	FallbackUsed          bool   `json:"fallback_used"`
	ToolCallsAttempted    int    `json:"tool_calls_attempted"`
	ToolCallsExecuted     int    `json:"tool_calls_executed"`
	CompletionReason      string `json:"completion_reason"`
}

func toTurnResponse(r turn.Result) turnResponse {
	calls := make([]toolCallWire, len(r.ToolCalls))
	for i, c := range r.ToolCalls {
		calls[i] = toolCallWire{Name: c.Name, Args: c.Args, Status: c.Status, Result: c.Result}
	}
	return turnResponse{
		OK:            true,
		TurnID:        r.TurnID,
		AssistantText: r.AssistantText,
		ToolCalls:     calls,
		Memory:        memoryWire{Written: r.Memory.Written, RetrievedCount: r.Memory.RetrievedCount},
		DurationMs:    r.DurationMs,
		Latency: latencyWire{
			MemoryReadMs: r.Latency.MemoryReadMs, ModelMs: r.Latency.ModelMs,
			ToolMs: r.Latency.ToolMs, TotalMs: r.Latency.TotalMs,
		},
		Quality: qualityWire{
			GenerationProfileUsed: r.Quality.GenerationProfileUsed,
			FallbackUsed:          r.Quality.FallbackUsed,
			ToolCallsAttempted:    r.Quality.ToolCallsAttempted,
			ToolCallsExecuted:     r.Quality.ToolCallsExecuted,
			CompletionReason:      r.Quality.CompletionReason,
		},
	}
}

// statusForCode maps the closed error-code taxonomy to an HTTP status,
// per spec.md §7's propagation policy.
func statusForCode(code turn.Code) int {
	switch code {
	case turn.CodeInvalidArgument, turn.CodeValidationFailed:
		return http.StatusBadRequest
	case turn.CodeSessionNotFound:
		return http.StatusNotFound
	case turn.CodeMaxSessions, turn.CodePolicyDenied, turn.CodeConfirmationBypass:
		return http.StatusForbidden
	case turn.CodeRateLimited:
		return http.StatusTooManyRequests
	case turn.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case turn.CodeTimeout:
		return http.StatusGatewayTimeout
	case turn.CodeBudgetExceededContext, turn.CodeBudgetExceededLatency:
		return http.StatusUnprocessableEntity
	case turn.CodeConfirmationExpired:
		return http.StatusGone
	case turn.CodeExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, terr *turn.Error) {
	writeJSON(w, statusForCode(terr.Code), turnResponse{
		OK:    false,
		Error: &errorWire{Code: terr.Code, Message: terr.Message, Details: terr.Details},
	})
}
