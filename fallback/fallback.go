// Package fallback implements the deterministic Fallback Envelope Contract
// returned when the model-router is unreachable or a call exhausts
// retries. Triggers are a closed, versioned enum: adding a variant bumps
// ContractVersion (Open Question (a) — the source treats some triggers as
// free-form strings in older paths; this gateway always uses the enum).
package fallback

// ContractVersion is bumped whenever Trigger gains a new variant or any
// Envelope field changes meaning.
const ContractVersion = "1.0.0"

// Trigger is the closed set of reasons a fallback envelope was produced.
type Trigger string

const (
	TriggerRouterUnavailable Trigger = "router_unavailable"
	TriggerRouterError       Trigger = "router_error"
	TriggerUnexpectedError   Trigger = "unexpected_error"
)

// DefaultResponseText is returned when the caller supplies no
// polite-failure override.
const DefaultResponseText = "I'm temporarily unable to process this request. Please try again shortly."

// Envelope is the deterministic response shape substituted for a model
// reply when the model-router cannot be reached.
type Envelope struct {
	Response            string  `json:"response"`
	Source              string  `json:"source"`
	Model               string  `json:"model"`
	Provider             string  `json:"provider"`
	FallbackUsed        bool    `json:"fallback_used"`
	FallbackTrigger     Trigger `json:"fallback_trigger"`
	FallbackReason      string  `json:"fallback_reason"`
	FallbackContractVer string  `json:"fallback_contract_version"`
	CorrelationID       string  `json:"correlation_id"`
}

// New builds a deterministic fallback Envelope. responseText may be empty,
// in which case DefaultResponseText is used.
func New(trigger Trigger, reason, correlationID, responseText string) Envelope {
	if responseText == "" {
		responseText = DefaultResponseText
	}
	return Envelope{
		Response:            responseText,
		Source:              "fallback",
		Model:               "fallback",
		Provider:            "static",
		FallbackUsed:        true,
		FallbackTrigger:     trigger,
		FallbackReason:      reason,
		FallbackContractVer: ContractVersion,
		CorrelationID:       correlationID,
	}
}
