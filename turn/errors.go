package turn

import "fmt"

// Code is the closed, stable error-code taxonomy surfaced at the HTTP
// boundary, per spec.md §7.
type Code string

const (
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeSessionNotFound         Code = "SESSION_NOT_FOUND"
	CodeMaxSessions             Code = "MAX_SESSIONS"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeCircuitOpen             Code = "CIRCUIT_OPEN"
	CodeTimeout                 Code = "TIMEOUT"
	CodeBudgetExceededContext   Code = "BUDGET_EXCEEDED_CONTEXT"
	CodeBudgetExceededLatency   Code = "BUDGET_EXCEEDED_LATENCY"
	CodePolicyDenied            Code = "POLICY_DENIED"
	CodeValidationFailed        Code = "VALIDATION_FAILED"
	CodeConfirmationExpired     Code = "CONFIRMATION_EXPIRED"
	CodeConfirmationBypass      Code = "CONFIRMATION_BYPASS"
	CodeExecutionFailed         Code = "EXECUTION_FAILED"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Error is the typed error every pipeline stage returns; the HTTP boundary
// renders it into the error envelope verbatim.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn: %s: %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
