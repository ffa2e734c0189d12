// Package scenario defines the scenario document model and its timeline.
//
// A scenario is a YAML document describing a deterministic agent session:
// repository setup, lifecycle hooks, post-run expectations, and an ordered
// timeline of steps. Steps come in a grouped form (llmResponse, agentActions,
// userActions) and a legacy single-event form; both flatten into the same
// element vocabulary.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind identifies a timeline element variant.
type Kind string

const (
	KindThink       Kind = "think"
	KindAssistant   Kind = "assistant"
	KindToolUse     Kind = "agentToolUse"
	KindEdits       Kind = "agentEdits"
	KindError       Kind = "error"
	KindToolResult  Kind = "toolResult"
	KindAdvance     Kind = "advanceMs"
	KindScreenshot  Kind = "screenshot"
	KindAssert      Kind = "assert"
	KindComplete    Kind = "complete"
	KindMerge       Kind = "merge"
	KindUserInputs  Kind = "userInputs"
	KindUserEdits   Kind = "userEdits"
	KindUserCommand Kind = "userCommand"
)

// StepKind identifies the form of a timeline step.
type StepKind string

const (
	StepLLMResponse  StepKind = "llmResponse"
	StepAgentActions StepKind = "agentActions"
	StepUserActions  StepKind = "userActions"
	StepLegacy       StepKind = "legacy"
)

// Document is a parsed scenario file.
type Document struct {
	Name          string      `yaml:"name"`
	InitialPrompt string      `yaml:"initialPrompt"`
	Repo          *RepoConfig `yaml:"repo"`
	Meta          Meta        `yaml:"meta"`
	Hooks         HooksConfig `yaml:"hooks"`
	Expect        []Assertion `yaml:"expect"`
	Timeline      []Step      `yaml:"timeline"`
}

// RepoConfig describes how to seed the workspace repository.
type RepoConfig struct {
	Init   bool       `yaml:"init"`
	Branch string     `yaml:"branch"`
	Dirs   []string   `yaml:"dirs"`
	Files  []SeedFile `yaml:"files"`
}

// SeedFile is a file created in the workspace before playback starts.
type SeedFile struct {
	Path     string `yaml:"path"`
	Contents string `yaml:"contents"`
}

// Meta carries free-text instructions and turn-context defaults recorded at
// the head of every transcript.
type Meta struct {
	Instructions string         `yaml:"instructions"`
	TurnContext  map[string]any `yaml:"turn_context"`
}

// HooksConfig maps a lifecycle event name (e.g. PostToolUse) to its matchers.
type HooksConfig map[string][]HookMatcher

// HookMatcher selects which tool names a set of hook commands applies to.
// A matcher of "*" or "" matches every tool.
type HookMatcher struct {
	Matcher string        `yaml:"matcher"`
	Hooks   []HookCommand `yaml:"hooks"`
}

// HookCommand is one shell command fired for a lifecycle event.
type HookCommand struct {
	Type       string `yaml:"type"`
	Command    string `yaml:"command"`
	TimeoutSec int    `yaml:"timeout"`
}

// Assertion is one post-run expectation. Exactly one field is set.
type Assertion struct {
	FileExists   string            `yaml:"fileExists"`
	FileContains *FileContains     `yaml:"fileContains"`
	JSONEquals   *JSONPointerCheck `yaml:"jsonEquals"`
	CommitMsg    string            `yaml:"commitMessageContains"`
}

// FileContains asserts that a workspace file contains a substring.
type FileContains struct {
	Path string `yaml:"path"`
	Text string `yaml:"text"`
}

// JSONPointerCheck asserts that the value at an RFC 6901 pointer inside a
// JSON file equals the expected value.
type JSONPointerCheck struct {
	Path    string `yaml:"path"`
	Pointer string `yaml:"pointer"`
	Value   any    `yaml:"value"`
}

// TimedText is a [delay_ms, text] pair. The delay is consumed after the text
// is produced.
type TimedText struct {
	DelayMs int64
	Text    string
}

// UnmarshalYAML decodes the two-element sequence form.
func (t *TimedText) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 2 {
		return fmt.Errorf("timed text must be a [delay_ms, text] pair (line %d)", node.Line)
	}
	if err := node.Content[0].Decode(&t.DelayMs); err != nil {
		return fmt.Errorf("timed text delay: %w", err)
	}
	if err := node.Content[1].Decode(&t.Text); err != nil {
		return fmt.Errorf("timed text body: %w", err)
	}
	return nil
}

// Element is one timeline element. The concrete type is one of the variants
// below; consumers switch exhaustively on the type or on Kind().
type Element interface {
	Kind() Kind
}

// Think is internal reasoning, a list of timed lines.
type Think struct {
	Lines []TimedText
}

func (Think) Kind() Kind { return KindThink }

// Assistant is user-visible assistant output, a list of timed lines.
type Assistant struct {
	Lines []TimedText
}

func (Assistant) Kind() Kind { return KindAssistant }

// ToolUse is an agent tool invocation in the scenario's agent-agnostic
// vocabulary. Named tool events (runCmd, grep, readFile, ...) parse into a
// ToolUse with Tool set to the event key.
type ToolUse struct {
	Tool     string
	Args     map[string]any
	Result   any
	Status   string
	Progress []TimedText
}

func (ToolUse) Kind() Kind { return KindToolUse }

// Edits is a summarized file edit performed by the agent.
type Edits struct {
	Path         string `yaml:"path"`
	LinesAdded   int    `yaml:"linesAdded"`
	LinesRemoved int    `yaml:"linesRemoved"`
}

func (Edits) Kind() Kind { return KindEdits }

// ErrorEvent turns the response into an assistant-visible error message.
type ErrorEvent struct {
	Type       string `yaml:"type"`
	Message    string `yaml:"message"`
	StatusCode int    `yaml:"statusCode"`
}

func (ErrorEvent) Kind() Kind { return KindError }

// ToolResult carries a scripted tool result. Informational for the server;
// the runner records it as a function call output.
type ToolResult struct {
	Value any
}

func (ToolResult) Kind() Kind { return KindToolResult }

// Advance moves logical time forward without emitting output.
type Advance struct {
	Ms int64
}

func (Advance) Kind() Kind { return KindAdvance }

// Screenshot requests a capture over the test IPC channel.
type Screenshot struct {
	Label string
}

func (Screenshot) Kind() Kind { return KindScreenshot }

// Assert evaluates an assertion mid-timeline.
type Assert struct {
	Check Assertion
}

func (Assert) Kind() Kind { return KindAssert }

// Complete marks the scenario as finished.
type Complete struct{}

func (Complete) Kind() Kind { return KindComplete }

// Merge marks the session for merging by the test harness.
type Merge struct{}

func (Merge) Kind() Kind { return KindMerge }

// UserInputs is scripted user input, a list of timed lines.
type UserInputs struct {
	Lines  []TimedText
	Target string
}

func (UserInputs) Kind() Kind { return KindUserInputs }

// UserEdits applies a unified diff to the workspace.
type UserEdits struct {
	PatchFile string
}

func (UserEdits) Kind() Kind { return KindUserEdits }

// UserCommand runs a shell command as the user.
type UserCommand struct {
	Cmd string
	Cwd string
}

func (UserCommand) Kind() Kind { return KindUserCommand }

// Step is one timeline entry: either a grouped step holding an ordered
// element list, or a legacy step holding exactly one element.
type Step struct {
	Form     StepKind
	Elements []Element
}

// UnmarshalYAML enforces the single-discriminant invariant: a step mapping
// carries exactly one of the grouped keys or exactly one legacy event key.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("timeline step must be a mapping (line %d)", node.Line)
	}
	if len(node.Content) != 2 {
		return fmt.Errorf("timeline step must carry exactly one event key, got %d (line %d)", len(node.Content)/2, node.Line)
	}

	key := node.Content[0].Value
	value := node.Content[1]

	switch key {
	case "llmResponse", "agentActions", "userActions":
		if value.Kind != yaml.SequenceNode {
			return fmt.Errorf("%s must be a sequence (line %d)", key, value.Line)
		}
		elems := make([]Element, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return fmt.Errorf("%s element must be a single-key mapping (line %d)", key, item.Line)
			}
			elem, err := decodeElement(item.Content[0].Value, item.Content[1])
			if err != nil {
				return err
			}
			elems = append(elems, elem)
		}
		s.Form = StepKind(key)
		s.Elements = elems
		return nil
	default:
		elem, err := decodeElement(key, value)
		if err != nil {
			return err
		}
		s.Form = StepLegacy
		s.Elements = []Element{elem}
		return nil
	}
}

// decodeElement parses one event key/value into its Element variant. Keys
// outside the known set are treated as named tool events, so new scenario
// vocabulary degrades into a tool use rather than failing the parse.
func decodeElement(key string, value *yaml.Node) (Element, error) {
	switch key {
	case "think":
		var lines []TimedText
		if err := value.Decode(&lines); err != nil {
			return nil, fmt.Errorf("think: %w", err)
		}
		return Think{Lines: lines}, nil
	case "assistant":
		var lines []TimedText
		if err := value.Decode(&lines); err != nil {
			return nil, fmt.Errorf("assistant: %w", err)
		}
		return Assistant{Lines: lines}, nil
	case "agentToolUse":
		var raw struct {
			ToolName string         `yaml:"toolName"`
			Args     map[string]any `yaml:"args"`
			Result   any            `yaml:"result"`
			Status   string         `yaml:"status"`
			Progress []TimedText    `yaml:"progress"`
		}
		if err := value.Decode(&raw); err != nil {
			return nil, fmt.Errorf("agentToolUse: %w", err)
		}
		if raw.ToolName == "" {
			return nil, fmt.Errorf("agentToolUse missing toolName (line %d)", value.Line)
		}
		return ToolUse{Tool: raw.ToolName, Args: raw.Args, Result: raw.Result, Status: raw.Status, Progress: raw.Progress}, nil
	case "agentEdits":
		var e Edits
		if err := value.Decode(&e); err != nil {
			return nil, fmt.Errorf("agentEdits: %w", err)
		}
		return e, nil
	case "error":
		var e ErrorEvent
		if err := value.Decode(&e); err != nil {
			return nil, fmt.Errorf("error event: %w", err)
		}
		return e, nil
	case "toolResult":
		var v any
		if err := value.Decode(&v); err != nil {
			return nil, fmt.Errorf("toolResult: %w", err)
		}
		return ToolResult{Value: v}, nil
	case "advanceMs":
		var ms int64
		if err := value.Decode(&ms); err != nil {
			return nil, fmt.Errorf("advanceMs: %w", err)
		}
		return Advance{Ms: ms}, nil
	case "screenshot":
		var label string
		if err := value.Decode(&label); err != nil {
			var raw struct {
				Label string `yaml:"label"`
			}
			if err := value.Decode(&raw); err != nil {
				return nil, fmt.Errorf("screenshot: %w", err)
			}
			label = raw.Label
		}
		return Screenshot{Label: label}, nil
	case "assert":
		var a Assertion
		if err := value.Decode(&a); err != nil {
			return nil, fmt.Errorf("assert: %w", err)
		}
		return Assert{Check: a}, nil
	case "complete":
		return Complete{}, nil
	case "merge":
		return Merge{}, nil
	case "userInputs":
		if value.Kind == yaml.SequenceNode {
			var lines []TimedText
			if err := value.Decode(&lines); err != nil {
				return nil, fmt.Errorf("userInputs: %w", err)
			}
			return UserInputs{Lines: lines}, nil
		}
		var raw struct {
			Inputs []TimedText `yaml:"inputs"`
			Target string      `yaml:"target"`
		}
		if err := value.Decode(&raw); err != nil {
			return nil, fmt.Errorf("userInputs: %w", err)
		}
		return UserInputs{Lines: raw.Inputs, Target: raw.Target}, nil
	case "userEdits":
		var path string
		if err := value.Decode(&path); err != nil {
			var raw struct {
				PatchFile string `yaml:"patchFile"`
			}
			if err := value.Decode(&raw); err != nil {
				return nil, fmt.Errorf("userEdits: %w", err)
			}
			path = raw.PatchFile
		}
		return UserEdits{PatchFile: path}, nil
	case "userCommand":
		var cmd string
		if err := value.Decode(&cmd); err == nil {
			return UserCommand{Cmd: cmd}, nil
		}
		var raw struct {
			Cmd string `yaml:"cmd"`
			Cwd string `yaml:"cwd"`
		}
		if err := value.Decode(&raw); err != nil {
			return nil, fmt.Errorf("userCommand: %w", err)
		}
		return UserCommand{Cmd: raw.Cmd, Cwd: raw.Cwd}, nil
	default:
		// Named tool event: the key is the scenario tool name and the value
		// is its argument map.
		var args map[string]any
		if err := value.Decode(&args); err != nil {
			return nil, fmt.Errorf("tool event %q: %w", key, err)
		}
		return ToolUse{Tool: key, Args: args}, nil
	}
}

// Parse parses a scenario document from YAML bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(doc.Timeline) == 0 {
		return nil, fmt.Errorf("scenario %q has an empty timeline", doc.Name)
	}
	return &doc, nil
}

// Load reads and parses a scenario file. A parse failure is fatal to the
// caller: the document cannot be executed at all.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario file %s: %w", path, err)
	}
	return doc, nil
}

// ResponseKind reports whether an element produces an API response when the
// mock server consumes the timeline. Control and user-side events are skipped
// by the session cursor.
func ResponseKind(e Element) bool {
	switch e.(type) {
	case Think, Assistant, ToolUse, Edits, ErrorEvent:
		return true
	default:
		return false
	}
}
