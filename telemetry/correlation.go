package telemetry

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// correlationIDPattern matches the closed id grammar: a req_ or corr_ prefix
// followed by 4-64 URL-safe characters.
var correlationIDPattern = regexp.MustCompile(`^(req|corr)_[A-Za-z0-9_-]{4,64}$`)

// ValidCorrelationID reports whether id conforms to the gateway's
// correlation-id grammar.
func ValidCorrelationID(id string) bool {
	return correlationIDPattern.MatchString(id)
}

// NewCorrelationID mints a fresh correlation id for requests that arrive
// without one.
func NewCorrelationID() string {
	return "corr_" + uuid.NewString()
}

// WithCorrelationID attaches id to ctx for downstream propagation.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext retrieves the correlation id attached to ctx, or
// "" if none was attached.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
