package toolmap

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values produced by the validation policy.
const (
	DecisionAllow  = "allow"
	DecisionWarn   = "warn"
	DecisionReject = "reject"
)

// PolicyEngine evaluates the tool-validation policy for observed tool
// traffic. The policy decides how a tool name is treated given the
// profile's known set, strict mode, and the forced-failure override.
type PolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewPolicyEngine prepares the validation policy for evaluation.
func NewPolicyEngine(ctx context.Context, policyContent string) (*PolicyEngine, error) {
	r := rego.New(
		rego.Query("data.tools_validation.decision"),
		rego.Module("tools_validation.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &PolicyEngine{query: query}, nil
}

// ValidationInput is the policy input for one tool name.
type ValidationInput struct {
	ToolName string `json:"tool_name"`
	Known    bool   `json:"known"`
	Strict   bool   `json:"strict"`
	Forced   bool   `json:"forced"`
}

// Evaluate returns the policy decision for one tool name.
func (e *PolicyEngine) Evaluate(ctx context.Context, input ValidationInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// DefaultValidationPolicy rejects unknown or force-failed tools in strict
// mode and downgrades to a warning otherwise.
const DefaultValidationPolicy = `
package tools_validation

import rego.v1

default decision := "allow"

decision := "reject" if {
	input.strict
	invalid
}

decision := "warn" if {
	not input.strict
	invalid
}

invalid if not input.known

invalid if input.forced
`
