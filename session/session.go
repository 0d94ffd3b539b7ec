// Package session maintains the Session table: per-session conversation
// state, admission quotas, idle-expiry, and barge-in cancellation. A
// Session is owned exclusively by the Manager; it is created on admission,
// mutated only by its owning turn or by the idle-expiry sweep, and
// destroyed on explicit close or TTL expiry.
package session

import (
	"errors"
	"time"
)

type (
	// Profile selects the generation/latency posture for turns in a
	// session.
	Profile string

	// Status is the lifecycle state of a Session.
	Status string

	// Session represents one client conversation. It is modeled as an id
	// looked up in the Manager's table, never passed around as a pointer
	// shared across goroutines outside the Manager.
	Session struct {
		ID             string
		UserID         string
		ConversationID string
		Profile        Profile
		Status         Status
		CreatedAt      time.Time
		ExpiresAt      time.Time
		LastActivity   time.Time
		TurnCount      int
		VisionEnabled  bool
		RateLimitClass string
		ActiveStreams  int
	}
)

const (
	ProfileLowLatencyChat Profile = "low_latency_chat"
	ProfileDeepReasoning  Profile = "deep_reasoning"
	ProfileToolOriented   Profile = "tool_oriented"
	ProfileVision         Profile = "vision"

	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
)

var (
	// ErrNotFound indicates no session exists with the given id.
	ErrNotFound = errors.New("session: not found")
	// ErrQuotaExceeded indicates admission failed because a concurrency
	// bound (global or per-user) would be exceeded.
	ErrQuotaExceeded = errors.New("session: quota exceeded")
	// ErrClosed indicates an operation was attempted against a session
	// that is no longer active.
	ErrClosed = errors.New("session: closed")
)

// Invariant: TurnCount must never be negative.
func (s Session) validTurnCount() bool { return s.TurnCount >= 0 }
