// Package toolpolicy implements the three-tier tool classifier and the
// Confirmation Gate: the only code path permitted to transition a
// guarded_write tool call from requested to executed.
package toolpolicy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
	"gopkg.in/yaml.v3"
)

// Classification is the closed three-tier tool classification enum.
// Deny-by-default: any tool name absent from both allow-lists classifies
// as Blocked.
type Classification string

const (
	SafeRead     Classification = "safe_read"
	GuardedWrite Classification = "guarded_write"
	Blocked      Classification = "blocked"
)

// AllowLists is the YAML-declared, immutable-for-process-lifetime
// membership of the safe_read and guarded_write tiers.
type AllowLists struct {
	SafeRead     []string `yaml:"safe_read"`
	GuardedWrite []string `yaml:"guarded_write"`
}

// LoadAllowLists parses a YAML allow-list document, the shape declared by
// SPEC_FULL.md §3's "tool allow-lists" config section.
func LoadAllowLists(doc []byte) (AllowLists, error) {
	var lists AllowLists
	if err := yaml.Unmarshal(doc, &lists); err != nil {
		return AllowLists{}, fmt.Errorf("toolpolicy: parse allow-lists: %w", err)
	}
	return lists, nil
}

// regoModule compiles the allow-lists into input.tools_safe_read /
// input.tools_guarded_write document sets and exposes a single decision
// rule, data.turngate.toolpolicy.classification, so the three-tier
// decision lives in one declarative policy artifact rather than scattered
// Go conditionals.
const regoModule = `
package turngate.toolpolicy

default classification := "blocked"

classification := "safe_read" if {
	input.tool_name in input.tools_safe_read
}

classification := "guarded_write" if {
	not input.tool_name in input.tools_safe_read
	input.tool_name in input.tools_guarded_write
}
`

// Classifier evaluates tool names against the compiled allow-list policy.
// It is built once at startup from an immutable AllowLists snapshot; there
// is no runtime mutation path (a SIGHUP-triggered reload is a documented
// future enhancement, not implemented).
type Classifier struct {
	lists AllowLists
	query rego.PreparedEvalQuery
}

// NewClassifier compiles lists into a ready-to-query OPA policy.
func NewClassifier(ctx context.Context, lists AllowLists) (*Classifier, error) {
	query, err := rego.New(
		rego.Query("data.turngate.toolpolicy.classification"),
		rego.Module("toolpolicy.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("toolpolicy: prepare policy: %w", err)
	}
	return &Classifier{lists: lists, query: query}, nil
}

// Classify evaluates toolName against the compiled policy, returning
// Blocked (deny-by-default) for any name in neither allow-list or for any
// policy evaluation error.
func (c *Classifier) Classify(ctx context.Context, toolName string) Classification {
	input := map[string]any{
		"tool_name":            toolName,
		"tools_safe_read":      c.lists.SafeRead,
		"tools_guarded_write":  c.lists.GuardedWrite,
	}
	results, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
		return Blocked
	}
	val, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return Blocked
	}
	switch Classification(val) {
	case SafeRead, GuardedWrite:
		return Classification(val)
	default:
		return Blocked
	}
}
