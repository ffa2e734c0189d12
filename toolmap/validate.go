package toolmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ForceFailureEnv, when set to a truthy value, makes every validation pass
// behave as if an unknown tool was seen. Used to exercise the drift-capture
// path against agents whose tool sets are still valid.
const ForceFailureEnv = "FORCE_TOOLS_VALIDATION_FAILURE"

// CaptureDirName is the root directory for captured drift requests,
// relative to the validator's base directory.
const CaptureDirName = "agent-requests"

// Validator checks tool definitions and tool calls observed in live API
// requests against a profile's known-tool set. Unknown names indicate the
// agent's tool schema drifted from the profile tables; the raw request is
// persisted so the tables can be regenerated from it.
type Validator struct {
	profiles     *Profiles
	policy       *PolicyEngine
	profile      Profile
	agentVersion string
	strict       bool
	baseDir      string

	// OnFlag, when set, observes every non-allow decision after the
	// request body has been captured.
	OnFlag func(toolName, decision, capturePath string)
}

// NewValidator builds a validator for one agent profile. agentVersion
// becomes the capture subdirectory; baseDir is the capture root ("" means
// the current directory).
func NewValidator(ctx context.Context, profiles *Profiles, profile Profile, agentVersion string, strict bool, baseDir string) (*Validator, error) {
	policy, err := NewPolicyEngine(ctx, DefaultValidationPolicy)
	if err != nil {
		return nil, fmt.Errorf("validator policy: %w", err)
	}
	if agentVersion == "" {
		agentVersion = "unknown"
	}
	return &Validator{
		profiles:     profiles,
		policy:       policy,
		profile:      profile,
		agentVersion: agentVersion,
		strict:       strict,
		baseDir:      baseDir,
	}, nil
}

// Profile returns the validator's agent profile.
func (v *Validator) Profile() Profile { return v.profile }

// AgentVersion returns the capture subdirectory version.
func (v *Validator) AgentVersion() string { return v.agentVersion }

// CheckToolDefinitions validates the tool definitions an agent advertised
// in its request. body is the raw request body, persisted on drift.
func (v *Validator) CheckToolDefinitions(ctx context.Context, defs []map[string]any, body []byte) error {
	return v.check(ctx, extractNames(defs), "tool definition", body)
}

// CheckToolCalls validates tool invocation names echoed back by the agent
// in conversation history.
func (v *Validator) CheckToolCalls(ctx context.Context, calls []map[string]any, body []byte) error {
	return v.check(ctx, extractNames(calls), "tool call", body)
}

func (v *Validator) check(ctx context.Context, names []string, what string, body []byte) error {
	forced := forceFailure()
	for _, name := range names {
		input := ValidationInput{
			ToolName: name,
			Known:    v.profiles.IsValidTool(v.profile, name),
			Strict:   v.strict,
			Forced:   forced,
		}
		decision, err := v.policy.Evaluate(ctx, input)
		if err != nil {
			return fmt.Errorf("validate %s %q: %w", what, name, err)
		}
		if decision == DecisionAllow {
			continue
		}

		saved, saveErr := v.saveRequest(body)
		if saveErr != nil {
			log.Printf("ERROR: failed to capture request for %s %q: %v", what, name, saveErr)
		} else {
			log.Printf("WARN: unrecognized %s %q for profile %s, request saved to %s", what, name, v.profile, saved)
		}
		if v.OnFlag != nil {
			v.OnFlag(name, decision, saved)
		}

		if decision == DecisionReject {
			return fmt.Errorf("unrecognized %s %q for profile %s", what, name, v.profile)
		}
	}
	return nil
}

// saveRequest writes the raw request body, pretty-printed when it is valid
// JSON, to agent-requests/{profile}/{version}/request.json. The path is
// stable so repeated drift overwrites rather than accumulates.
func (v *Validator) saveRequest(body []byte) (string, error) {
	dir := filepath.Join(v.baseDir, CaptureDirName, string(v.profile), v.agentVersion)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}

	out := body
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		out = pretty.Bytes()
	}

	path := filepath.Join(dir, "request.json")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write capture file: %w", err)
	}
	return path, nil
}

// extractNames pulls tool names from OpenAI-style ({"function":{"name":..}})
// and Anthropic-style ({"name":..}) shapes.
func extractNames(items []map[string]any) []string {
	var names []string
	for _, item := range items {
		if name, ok := item["name"].(string); ok && name != "" {
			names = append(names, name)
			continue
		}
		if fn, ok := item["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func forceFailure() bool {
	switch strings.ToLower(os.Getenv(ForceFailureEnv)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
