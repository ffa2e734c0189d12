// Package recorder writes append-only session transcripts. Two physical
// schemas are supported: Codex rollout JSONL and Claude session JSONL. The
// schema is chosen at startup and fixed for the process's lifetime.
package recorder

import (
	"fmt"
	"time"
)

// Format selects the on-disk transcript schema.
type Format string

const (
	FormatCodex  Format = "codex"
	FormatClaude Format = "claude"
)

// Recorder appends structured entries to a session transcript.
type Recorder interface {
	// Path returns the transcript file path.
	Path() string
	// TurnContext records the model/tooling context for the next turn.
	TurnContext(payload map[string]any) error
	// Message records a plain user or assistant message.
	Message(role, text string) error
	// Reasoning records internal reasoning summary text.
	Reasoning(summary string) error
	// FunctionCall records a tool invocation. arguments is the serialized
	// argument payload as the wire format carries it.
	FunctionCall(name, arguments, callID string) error
	// FunctionCallOutput records the result of a prior tool invocation.
	FunctionCallOutput(callID, output string, isError bool) error
	Flush() error
	Close() error
}

// Options configures a transcript writer.
type Options struct {
	// Home is the agent home directory the transcript tree lives under
	// (e.g. ~/.codex or ~/.claude).
	Home string
	// Cwd is the workspace directory recorded in session metadata.
	Cwd string
	// Originator names the producing process in session metadata.
	Originator string
	// CLIVersion is the advertised agent version.
	CLIVersion string
	// Instructions is the scenario's meta instruction text, if any.
	Instructions string
}

// New opens a transcript writer for the given format.
func New(format Format, opts Options) (Recorder, error) {
	switch format {
	case FormatCodex:
		return NewRollout(opts)
	case FormatClaude:
		return NewClaudeSession(opts)
	default:
		return nil, fmt.Errorf("unknown transcript format %q", format)
	}
}

// nowISO is the millisecond-precision UTC timestamp both schemas use.
func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
