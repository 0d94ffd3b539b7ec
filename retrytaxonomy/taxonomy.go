// Package retrytaxonomy classifies action failures into a closed taxonomy
// that drives retry policy, dead-letter routing, and operator triage. It
// sits underneath the Circuit Breaker Registry: the breaker tracks
// consecutive failures per backend, while this package decides whether any
// individual failure is worth retrying at all.
package retrytaxonomy

import (
	"context"
	"errors"
	"net"
	"strings"
)

// FailureClass is the closed enum of failure buckets. The set must never be
// silently extended; adding a variant is a compile-time event.
type FailureClass string

const (
	ConnectionBootstrap FailureClass = "connection_bootstrap"
	Timeout             FailureClass = "timeout"
	CircuitOpen         FailureClass = "circuit_open"
	PolicyDenied        FailureClass = "policy_denied"
	ValidationFailed    FailureClass = "validation_failed"
	ExecutionError      FailureClass = "execution_error"
	Backpressure        FailureClass = "backpressure"
	Unknown             FailureClass = "unknown"
)

// Policy is the static retry policy bound to a FailureClass.
type Policy struct {
	Retryable    bool
	MaxRetries   int
	BackoffBase  float64
}

// policyTable mirrors RETRY_POLICY from the originating failure taxonomy,
// carried forward verbatim.
var policyTable = map[FailureClass]Policy{
	ConnectionBootstrap: {Retryable: true, MaxRetries: 3, BackoffBase: 2.0},
	Timeout:             {Retryable: true, MaxRetries: 2, BackoffBase: 1.5},
	CircuitOpen:         {Retryable: false, MaxRetries: 0, BackoffBase: 0},
	PolicyDenied:        {Retryable: false, MaxRetries: 0, BackoffBase: 0},
	ValidationFailed:    {Retryable: false, MaxRetries: 0, BackoffBase: 0},
	ExecutionError:      {Retryable: true, MaxRetries: 2, BackoffBase: 1.5},
	Backpressure:        {Retryable: true, MaxRetries: 3, BackoffBase: 3.0},
	Unknown:             {Retryable: true, MaxRetries: 1, BackoffBase: 2.0},
}

// PolicyFor returns the static policy for fc. Unknown classes (which cannot
// occur for a value of type FailureClass built via Classify) fall back to
// Unknown's policy.
func PolicyFor(fc FailureClass) Policy {
	if p, ok := policyTable[fc]; ok {
		return p
	}
	return policyTable[Unknown]
}

// IsRetryable reports whether fc is eligible for retry.
func IsRetryable(fc FailureClass) bool { return PolicyFor(fc).Retryable }

// MaxRetries returns the retry budget for fc.
func MaxRetries(fc FailureClass) int { return PolicyFor(fc).MaxRetries }

// BackoffBase returns the exponential backoff base multiplier for fc.
func BackoffBase(fc FailureClass) float64 { return PolicyFor(fc).BackoffBase }

// Input carries the signals Classify inspects. Any subset may be empty; at
// least one of Code, Message, Status, or Err should normally be set.
type Input struct {
	Code    string
	Message string
	Status  string
	Err     error
}

// circuitOpenError is implemented by breaker.ErrOpen-shaped errors so
// Classify can recognize a tripped breaker without importing the breaker
// package (which would create a dependency cycle — retrytaxonomy sits
// below breaker in the dependency flow).
type circuitOpenError interface {
	CircuitOpen() bool
}

// Classify buckets a failure into the taxonomy. Checks are ordered
// most-specific-first so the first match wins: circuit → policy →
// validation → timeout → backpressure → connection → generic →
// unknown. This ordering is carried forward verbatim from the source
// classify_failure.
func Classify(in Input) FailureClass {
	code := strings.ToUpper(in.Code)
	msg := strings.ToLower(in.Message)

	var coe circuitOpenError
	if errors.As(in.Err, &coe) && coe.CircuitOpen() {
		return CircuitOpen
	}
	if code == "CIRCUIT_OPEN" || strings.Contains(msg, "circuit breaker") {
		return CircuitOpen
	}

	if code == "POLICY_DENIED" || strings.Contains(msg, "policy denied") || strings.Contains(msg, "blocked") {
		return PolicyDenied
	}

	if code == "VALIDATION_FAILED" || in.Status == "validation_failed" {
		return ValidationFailed
	}

	if code == "TIMEOUT" || in.Status == "timeout" || strings.Contains(msg, "timed out") ||
		errors.Is(in.Err, context.DeadlineExceeded) {
		return Timeout
	}

	if strings.Contains(code, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many") || code == "BACKPRESSURE" {
		return Backpressure
	}

	for _, kw := range []string{"connection refused", "dns", "unreachable",
		"connect timeout", "connection reset", "no route to host"} {
		if strings.Contains(msg, kw) {
			return ConnectionBootstrap
		}
	}
	var dnsErr *net.DNSError
	if errors.As(in.Err, &dnsErr) {
		return ConnectionBootstrap
	}
	var opErr *net.OpError
	if errors.As(in.Err, &opErr) && !opErr.Timeout() {
		return ConnectionBootstrap
	}

	if code == "EXECUTION_FAILED" || code == "INTERNAL_ERROR" || in.Status == "error" {
		return ExecutionError
	}

	if code != "" || msg != "" || in.Err != nil {
		return Unknown
	}
	return Unknown
}
