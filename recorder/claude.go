package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ClaudeSession writes a Claude session transcript:
// <home>/projects/<sanitized-cwd>/<session-id>.jsonl. Each line carries the
// session id, its own uuid, and the uuid of the preceding line, forming the
// parent chain resume relies on.
type ClaudeSession struct {
	file       *os.File
	path       string
	sessionID  string
	cwd        string
	version    string
	parentUUID string
}

// SanitizeCwd converts a workspace path into the project directory name
// used under <home>/projects.
func SanitizeCwd(cwd string) string {
	return "-" + strings.ReplaceAll(strings.TrimPrefix(cwd, "/"), "/", "-")
}

// NewClaudeSession creates the project directory and opens the transcript.
func NewClaudeSession(opts Options) (*ClaudeSession, error) {
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	dir := filepath.Join(opts.Home, "projects", SanitizeCwd(cwd))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	sessionID := uuid.New().String()
	path := filepath.Join(dir, sessionID+".jsonl")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	version := opts.CLIVersion
	if version == "" {
		version = "1.0.0"
	}
	s := &ClaudeSession{
		file:      file,
		path:      path,
		sessionID: sessionID,
		cwd:       cwd,
		version:   version,
	}
	if opts.Instructions != "" {
		if err := s.writeLine("system", map[string]any{
			"role":    "system",
			"content": opts.Instructions,
		}); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

// writeLine appends one transcript line and advances the parent chain.
func (s *ClaudeSession) writeLine(lineType string, message map[string]any) error {
	var parent any
	if s.parentUUID != "" {
		parent = s.parentUUID
	}
	id := uuid.New().String()
	line := map[string]any{
		"parentUuid":  parent,
		"isSidechain": false,
		"userType":    "external",
		"cwd":         s.cwd,
		"sessionId":   s.sessionID,
		"version":     s.version,
		"type":        lineType,
		"message":     message,
		"uuid":        id,
		"timestamp":   nowISO(),
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal %s line: %w", lineType, err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s line: %w", lineType, err)
	}
	s.parentUUID = id
	return nil
}

// assistantMessage wraps content blocks in the API message envelope the
// transcript embeds verbatim.
func (s *ClaudeSession) assistantMessage(content []map[string]any) map[string]any {
	return map[string]any{
		"id":          "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"stop_reason": nil,
		"usage":       map[string]any{"input_tokens": 0, "output_tokens": 0},
	}
}

// Path returns the transcript file path.
func (s *ClaudeSession) Path() string { return s.path }

// SessionID returns the session UUID.
func (s *ClaudeSession) SessionID() string { return s.sessionID }

func (s *ClaudeSession) TurnContext(payload map[string]any) error {
	return s.writeLine("system", map[string]any{
		"role":    "system",
		"subtype": "turn_context",
		"content": payload,
	})
}

func (s *ClaudeSession) Message(role, text string) error {
	if role == "user" {
		return s.writeLine("user", map[string]any{
			"role":    "user",
			"content": text,
		})
	}
	return s.writeLine("assistant", s.assistantMessage([]map[string]any{
		{"type": "text", "text": text},
	}))
}

func (s *ClaudeSession) Reasoning(summary string) error {
	return s.writeLine("assistant", s.assistantMessage([]map[string]any{
		{"type": "thinking", "thinking": summary, "signature": ""},
	}))
}

func (s *ClaudeSession) FunctionCall(name, arguments, callID string) error {
	if callID == "" {
		callID = "toolu_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	// Arguments arrive serialized; the transcript stores them structured.
	var input any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		input = map[string]any{"raw": arguments}
	}
	return s.writeLine("assistant", s.assistantMessage([]map[string]any{
		{"type": "tool_use", "id": callID, "name": name, "input": input},
	}))
}

func (s *ClaudeSession) FunctionCallOutput(callID, output string, isError bool) error {
	return s.writeLine("user", map[string]any{
		"role": "user",
		"content": []map[string]any{
			{"type": "tool_result", "tool_use_id": callID, "content": output, "is_error": isError},
		},
	})
}

func (s *ClaudeSession) Flush() error { return s.file.Sync() }

func (s *ClaudeSession) Close() error {
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
