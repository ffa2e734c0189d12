package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Rollout writes a Codex rollout transcript:
// <home>/sessions/YYYY/MM/DD/rollout-<stamp>-<session-id>.jsonl, one JSON
// object per line, file mode 0600. The first line is always session_meta.
type Rollout struct {
	file      *os.File
	path      string
	sessionID string
	cwd       string
}

type rolloutEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
}

// NewRollout creates the dated session directory, opens the transcript and
// writes the session_meta header line.
func NewRollout(opts Options) (*Rollout, error) {
	now := time.Now().UTC()
	dir := filepath.Join(opts.Home, "sessions",
		now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	sessionID := uuid.New().String()
	name := fmt.Sprintf("rollout-%s-%s.jsonl", now.Format("2006-01-02T15-04-05"), sessionID)
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	r := &Rollout{file: file, path: path, sessionID: sessionID, cwd: cwd}

	var instructions any
	if opts.Instructions != "" {
		instructions = opts.Instructions
	}
	meta := map[string]any{
		"meta": map[string]any{
			"id":           sessionID,
			"timestamp":    nowISO(),
			"cwd":          cwd,
			"originator":   opts.Originator,
			"cli_version":  opts.CLIVersion,
			"instructions": instructions,
		},
		"git": map[string]any{},
	}
	if err := r.write("session_meta", meta); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Rollout) write(entryType string, payload any) error {
	line, err := json.Marshal(rolloutEntry{
		Timestamp: nowISO(),
		Type:      entryType,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", entryType, err)
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s entry: %w", entryType, err)
	}
	return nil
}

// Path returns the transcript file path.
func (r *Rollout) Path() string { return r.path }

// SessionID returns the rollout's session UUID.
func (r *Rollout) SessionID() string { return r.sessionID }

func (r *Rollout) TurnContext(payload map[string]any) error {
	return r.write("turn_context", payload)
}

func (r *Rollout) Message(role, text string) error {
	return r.write("message", map[string]any{
		"role":    role,
		"content": []map[string]any{{"type": "text", "text": text}},
	})
}

func (r *Rollout) Reasoning(summary string) error {
	return r.write("reasoning", map[string]any{
		"summary": []map[string]any{{"type": "reasoning_text", "text": summary}},
		"content": []any{},
	})
}

func (r *Rollout) FunctionCall(name, arguments, callID string) error {
	if callID == "" {
		callID = "call_" + uuid.New().String()[:6]
	}
	return r.write("function_call", map[string]any{
		"name":      name,
		"arguments": arguments,
		"call_id":   callID,
	})
}

func (r *Rollout) FunctionCallOutput(callID, output string, isError bool) error {
	return r.write("function_call_output", map[string]any{
		"call_id":  callID,
		"output":   output,
		"is_error": isError,
	})
}

// LocalShellCall records a shell invocation with its lifecycle status and
// returns the call id so the completion entry can reuse it.
func (r *Rollout) LocalShellCall(command, cwd, status, callID string) (string, error) {
	if callID == "" {
		callID = "call_" + uuid.New().String()[:6]
	}
	if cwd == "" {
		cwd = r.cwd
	}
	err := r.write("local_shell_call", map[string]any{
		"call_id": callID,
		"status":  status,
		"action": map[string]any{
			"command": command,
			"cwd":     cwd,
			"env":     map[string]any{},
		},
	})
	return callID, err
}

func (r *Rollout) Flush() error { return r.file.Sync() }

func (r *Rollout) Close() error {
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
