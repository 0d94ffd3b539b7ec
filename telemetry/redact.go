package telemetry

import (
	"regexp"
	"strings"
)

// redactionPattern pairs a detector regexp with its replacement text. Ordered
// most-specific-first so vendor-prefixed tokens match before the generic
// bearer-token fallback.
type redactionPattern struct {
	re          *regexp.Regexp
	replacement string
}

var redactionPatterns = []redactionPattern{
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`), "[REDACTED:anthropic_key]"},
	{regexp.MustCompile(`sk-or-v1-[a-zA-Z0-9]{20,}`), "[REDACTED:openrouter_key]"},
	{regexp.MustCompile(`hf_[a-zA-Z0-9]{20,}`), "[REDACTED:hf_token]"},
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{20,}`), "[REDACTED:github_token]"},
	{regexp.MustCompile(`xoxb-[a-zA-Z0-9-]{20,}`), "[REDACTED:slack_token]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]{20,}`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED:ssn]"},
	{regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), "[REDACTED:cc]"},
	{regexp.MustCompile(`\b(?:\+1)?[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`), "[REDACTED:phone]"},
}

// sensitiveKeyFragments marks a field name as fully redacted when its
// lower-cased name contains any of these fragments.
var sensitiveKeyFragments = []string{
	"password", "secret", "token", "api_key", "apikey",
	"authorization", "cookie", "session_token",
	"private_key", "access_key", "secret_key",
}

// RedactString strips known secret/PII patterns from a free-form string.
func RedactString(s string) string {
	for _, p := range redactionPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// RedactFields returns a redacted copy of a structured field map, fully masking
// sensitive-named keys and pattern-scrubbing string values recursively. It is
// shared by telemetry, DLQ persistence, and any incident-bundle export so
// redaction behavior never drifts between call sites.
func RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return RedactString(val)
	case map[string]any:
		return RedactFields(val)
	case []any:
		redacted := make([]any, len(val))
		for i, item := range val {
			redacted[i] = redactValue(item)
		}
		return redacted
	default:
		return v
	}
}
