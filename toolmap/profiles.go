// Package toolmap translates the scenario's agent-agnostic tool vocabulary
// into agent-specific tool calls and validates tool traffic observed in live
// API requests against a profile's known-tool set.
package toolmap

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Profile identifies a coding agent's tool schema family.
type Profile string

const (
	ProfileCodex     Profile = "codex"
	ProfileClaude    Profile = "claude"
	ProfileGemini    Profile = "gemini"
	ProfileOpencode  Profile = "opencode"
	ProfileQwen      Profile = "qwen"
	ProfileCursorCLI Profile = "cursor-cli"
	ProfileGoose     Profile = "goose"
)

// ParseProfile maps a CLI/profile string to a Profile, defaulting to claude
// for unrecognized values.
func ParseProfile(s string) Profile {
	switch Profile(s) {
	case ProfileCodex, ProfileClaude, ProfileGemini, ProfileOpencode, ProfileQwen, ProfileCursorCLI, ProfileGoose:
		return Profile(s)
	default:
		return ProfileClaude
	}
}

// Mapping describes how one scenario tool event translates for an agent.
// Direct mappings rename the tool and rekey arguments; template mappings
// substitute scenario argument values into per-argument string templates.
type Mapping struct {
	Name         string
	Direct       bool
	ArgsMap      map[string]string
	TemplateArgs map[string]string
}

// ToolCall is a resolved agent-specific tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Profiles holds the valid-tool sets and event mappings for every agent.
type Profiles struct {
	validTools map[Profile]map[string]struct{}
	mappings   map[Profile]map[string]Mapping
	// shellTool is the generic terminal tool each profile falls back to for
	// scenario event types with no table entry.
	shellTool map[Profile]string
}

// NewProfiles builds the built-in profile tables.
func NewProfiles() *Profiles {
	p := &Profiles{
		validTools: make(map[Profile]map[string]struct{}),
		mappings:   make(map[Profile]map[string]Mapping),
		shellTool:  make(map[Profile]string),
	}
	p.initCodex()
	p.initClaude()
	// Remaining agents have no curated tables yet; they inherit the generic
	// shell fallback only.
	for _, prof := range []Profile{ProfileGemini, ProfileOpencode, ProfileQwen, ProfileCursorCLI, ProfileGoose} {
		p.validTools[prof] = map[string]struct{}{}
		p.mappings[prof] = map[string]Mapping{}
		p.shellTool[prof] = "run_terminal_cmd"
	}
	return p
}

// ValidTools returns the known-tool set for a profile.
func (p *Profiles) ValidTools(prof Profile) map[string]struct{} {
	return p.validTools[prof]
}

// IsValidTool reports whether the agent tool name belongs to the profile.
func (p *Profiles) IsValidTool(prof Profile, name string) bool {
	_, ok := p.validTools[prof][name]
	return ok
}

// MapToolCall resolves a scenario tool event into an agent-specific tool
// call. The mapping is total: event types absent from the table degrade to
// the profile's generic shell tool carrying the event as a command string.
func (p *Profiles) MapToolCall(prof Profile, eventType string, args map[string]any) ToolCall {
	mapping, ok := p.mappings[prof][eventType]
	if !ok {
		return p.genericShellCall(prof, eventType, args)
	}

	call := ToolCall{
		ID:   "call_" + uuid.New().String()[:8],
		Name: mapping.Name,
		Args: make(map[string]any, len(args)),
	}

	if mapping.Direct {
		for scenarioKey, agentKey := range mapping.ArgsMap {
			if v, ok := args[scenarioKey]; ok {
				call.Args[agentKey] = v
			}
		}
		// Unmapped keys pass through unchanged.
		for k, v := range args {
			if _, mapped := mapping.ArgsMap[k]; !mapped {
				call.Args[k] = v
			}
		}
		return call
	}

	for agentKey, tmpl := range mapping.TemplateArgs {
		call.Args[agentKey] = substituteTemplate(tmpl, args)
	}
	// Merge scenario args that were not consumed by a template key.
	for k, v := range args {
		if _, templated := call.Args[k]; !templated {
			call.Args[k] = v
		}
	}
	return call
}

// genericShellCall degrades an unknown scenario event into a terminal
// command so new vocabulary never fails closed.
func (p *Profiles) genericShellCall(prof Profile, eventType string, args map[string]any) ToolCall {
	name := p.shellTool[prof]
	if name == "" {
		name = "run_terminal_cmd"
	}
	cmd := eventType
	if len(args) > 0 {
		if encoded, err := json.Marshal(args); err == nil {
			cmd = fmt.Sprintf("%s '%s'", eventType, string(encoded))
		}
	}
	return ToolCall{
		ID:   "call_" + uuid.New().String()[:8],
		Name: name,
		Args: map[string]any{"command": cmd},
	}
}

var placeholderRe = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

// substituteTemplate replaces {key} placeholders with scenario argument
// values. Unresolved placeholders are left verbatim and reported; a missing
// key is a scenario/table mismatch worth surfacing, not a hard failure.
func substituteTemplate(tmpl string, args map[string]any) string {
	result := tmpl
	for key, value := range args {
		placeholder := "{" + key + "}"
		result = strings.ReplaceAll(result, placeholder, stringifyArg(value))
	}
	if leftover := placeholderRe.FindAllString(result, -1); len(leftover) > 0 {
		log.Printf("WARN: unresolved template placeholders %v in %q", leftover, tmpl)
	}
	return result
}

func stringifyArg(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

func (p *Profiles) initCodex() {
	p.validTools[ProfileCodex] = toolSet(
		"write_file", "read_file", "run_command", "append_file", "replace_in_file",
	)
	p.shellTool[ProfileCodex] = "run_command"

	m := map[string]Mapping{
		// Canonical scenario event names.
		"writeFile": {Name: "write_file", Direct: true, ArgsMap: map[string]string{
			"path": "path", "content": "text",
		}},
		"readFile": {Name: "read_file", Direct: true, ArgsMap: map[string]string{
			"path": "path",
		}},
		"runCmd": {Name: "run_command", Direct: true, ArgsMap: map[string]string{
			"cmd": "command", "cwd": "cwd",
		}},
		"appendFile": {Name: "append_file", Direct: true, ArgsMap: map[string]string{
			"path": "path", "text": "text",
		}},
		"replaceInFile": {Name: "replace_in_file", Direct: true, ArgsMap: map[string]string{
			"path": "path", "old_str": "old", "new_str": "new",
		}},
		"editFile": {Name: "edit_file", Direct: true, ArgsMap: map[string]string{
			"path": "path",
		}},
		"agentEdits": {Name: "edit_file", Direct: true, ArgsMap: map[string]string{
			"path": "path",
		}},
		// Codex has no native search/listing tools; these build terminal
		// commands from templates.
		"grep": {Name: "run_command", TemplateArgs: map[string]string{
			"command": "grep -rn {pattern} {path}",
		}},
		"listDir": {Name: "run_command", TemplateArgs: map[string]string{
			"command": "ls -la {path}",
		}},
		"find": {Name: "run_command", TemplateArgs: map[string]string{
			"command": "find {path} -name {pattern}",
		}},
		// Old playbook names kept for existing scenarios.
		"write_file": {Name: "write_file", Direct: true, ArgsMap: map[string]string{
			"path": "path", "text": "text",
		}},
		"read_file": {Name: "read_file", Direct: true, ArgsMap: map[string]string{
			"path": "path",
		}},
		"run_command": {Name: "run_command", Direct: true, ArgsMap: map[string]string{
			"command": "command", "cwd": "cwd",
		}},
		"append_file": {Name: "append_file", Direct: true, ArgsMap: map[string]string{
			"path": "path", "text": "text",
		}},
		"replace_in_file": {Name: "replace_in_file", Direct: true, ArgsMap: map[string]string{
			"path": "path", "old": "old", "new": "new",
		}},
	}
	p.mappings[ProfileCodex] = m
}

func (p *Profiles) initClaude() {
	p.validTools[ProfileClaude] = toolSet(
		"Bash", "Grep", "Read", "Glob", "Edit", "Write", "Task", "WebFetch",
		"WebSearch", "TodoWrite", "NotebookEdit", "ExitPlanMode", "BashOutput",
		"KillShell", "SlashCommand",
	)
	p.shellTool[ProfileClaude] = "Bash"

	m := map[string]Mapping{
		"runCmd": {Name: "Bash", Direct: true, ArgsMap: map[string]string{
			"cmd": "command", "cwd": "cwd", "timeout": "timeout",
			"description": "description", "run_in_background": "run_in_background",
		}},
		"grep": {Name: "Grep", Direct: true, ArgsMap: map[string]string{
			"pattern": "pattern", "path": "path", "glob": "glob",
			"output_mode": "output_mode", "-B": "-B", "-A": "-A", "-C": "-C",
			"-n": "-n", "-i": "-i", "type": "type", "head_limit": "head_limit",
			"multiline": "multiline",
		}},
		"readFile": {Name: "Read", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "offset": "offset", "limit": "limit",
		}},
		"writeFile": {Name: "Write", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "text": "content",
		}},
		"editFile": {Name: "Edit", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "old_string": "old_string",
			"new_string": "new_string", "replace_all": "replace_all",
		}},
		"appendFile": {Name: "Edit", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "text": "text",
		}},
		"replaceInFile": {Name: "Edit", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "old_str": "old_string", "new_str": "new_string",
		}},
		"listDir": {Name: "Glob", Direct: true, ArgsMap: map[string]string{
			"pattern": "pattern", "path": "path",
		}},
		"agentEdits": {Name: "Edit", Direct: true, ArgsMap: map[string]string{
			"path": "file_path",
		}},
		"task": {Name: "Task", Direct: true, ArgsMap: map[string]string{
			"description": "description", "prompt": "prompt", "subagent_type": "subagent_type",
		}},
		"webFetch": {Name: "WebFetch", Direct: true, ArgsMap: map[string]string{
			"url": "url", "prompt": "prompt",
		}},
		"webSearch": {Name: "WebSearch", Direct: true, ArgsMap: map[string]string{
			"query": "query", "allowed_domains": "allowed_domains", "blocked_domains": "blocked_domains",
		}},
		"todoWrite": {Name: "TodoWrite", Direct: true, ArgsMap: map[string]string{
			"todos": "todos",
		}},
		"notebookEdit": {Name: "NotebookEdit", Direct: true, ArgsMap: map[string]string{
			"notebook_path": "notebook_path", "cell_id": "cell_id",
			"new_source": "new_source", "cell_type": "cell_type", "edit_mode": "edit_mode",
		}},
		"exitPlanMode": {Name: "ExitPlanMode", Direct: true, ArgsMap: map[string]string{
			"plan": "plan",
		}},
		"bashOutput": {Name: "BashOutput", Direct: true, ArgsMap: map[string]string{
			"bash_id": "bash_id", "filter": "filter",
		}},
		"killShell": {Name: "KillShell", Direct: true, ArgsMap: map[string]string{
			"shell_id": "shell_id",
		}},
		"slashCommand": {Name: "SlashCommand", Direct: true, ArgsMap: map[string]string{
			"command": "command",
		}},
		// Old playbook names.
		"write_file": {Name: "Write", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "text": "content",
		}},
		"read_file": {Name: "Read", Direct: true, ArgsMap: map[string]string{
			"path": "file_path",
		}},
		"run_command": {Name: "Bash", Direct: true, ArgsMap: map[string]string{
			"command": "command", "cwd": "cwd",
		}},
		"append_file": {Name: "Edit", Direct: true, ArgsMap: map[string]string{
			"path": "file_path",
		}},
		"replace_in_file": {Name: "Edit", Direct: true, ArgsMap: map[string]string{
			"path": "file_path", "old": "old_string", "new": "new_string",
		}},
	}
	p.mappings[ProfileClaude] = m
}

func toolSet(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}
