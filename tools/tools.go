// Package tools implements the workspace-rooted tool library the runner
// executes scenario tool events against. Every path argument is resolved
// relative to the workspace root and must stay inside it.
package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ToolError marks a failure inside a tool implementation, as opposed to a
// malformed invocation.
type ToolError struct {
	Msg string
}

func (e *ToolError) Error() string { return e.Msg }

func toolErrorf(format string, args ...any) error {
	return &ToolError{Msg: fmt.Sprintf(format, args...)}
}

// Workspace is the execution root for all tools.
type Workspace struct {
	Root string
	// CommandTimeout bounds run_command when the caller's context carries
	// no earlier deadline.
	CommandTimeout time.Duration
	// UsePty runs commands under a pseudo-terminal for live streaming
	// output.
	UsePty bool
}

// New returns a workspace with the default command timeout.
func New(root string) *Workspace {
	return &Workspace{Root: root, CommandTimeout: 60 * time.Second}
}

// SafeJoin resolves a relative path inside the workspace. Paths escaping
// the root are rejected.
func (w *Workspace) SafeJoin(path string) (string, error) {
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	joined := filepath.Clean(filepath.Join(root, path))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", toolErrorf("unsafe path: %s", path)
	}
	return joined, nil
}

// ReadFile returns the file's content.
func (w *Workspace) ReadFile(path string) (map[string]any, error) {
	abs, err := w.SafeJoin(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, toolErrorf("read %s: %v", path, err)
	}
	return map[string]any{"path": path, "content": string(data)}, nil
}

// WriteFile writes the file, creating parent directories.
func (w *Workspace) WriteFile(path, text string) (map[string]any, error) {
	abs, err := w.SafeJoin(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, toolErrorf("write %s: %v", path, err)
	}
	if err := os.WriteFile(abs, []byte(text), 0o644); err != nil {
		return nil, toolErrorf("write %s: %v", path, err)
	}
	return map[string]any{"path": path, "bytes": len(text)}, nil
}

// AppendFile appends text to an existing or new file.
func (w *Workspace) AppendFile(path, text string) (map[string]any, error) {
	abs, err := w.SafeJoin(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, toolErrorf("append %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return nil, toolErrorf("append %s: %v", path, err)
	}
	return map[string]any{"path": path, "appended": len(text)}, nil
}

// ReplaceText applies a regular-expression substitution to the file.
// count limits the number of replacements; zero means all.
func (w *Workspace) ReplaceText(path, pattern, replacement string, count int) (map[string]any, error) {
	abs, err := w.SafeJoin(path)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile("(?m)" + pattern)
	if err != nil {
		return nil, toolErrorf("replace in %s: bad pattern %q: %v", path, pattern, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, toolErrorf("replace in %s: %v", path, err)
	}

	replaced := 0
	out := re.ReplaceAllStringFunc(string(data), func(m string) string {
		if count > 0 && replaced >= count {
			return m
		}
		replaced++
		return re.ReplaceAllString(m, replacement)
	})
	if err := os.WriteFile(abs, []byte(out), 0o644); err != nil {
		return nil, toolErrorf("replace in %s: %v", path, err)
	}
	return map[string]any{"path": path, "replaced": replaced}, nil
}

// ListDir returns the directory's entries sorted by name.
func (w *Workspace) ListDir(path string) (map[string]any, error) {
	if path == "" {
		path = "."
	}
	abs, err := w.SafeJoin(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, toolErrorf("list %s: %v", path, err)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })

	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
			"size":   size,
		})
	}
	return map[string]any{"path": path, "entries": out}, nil
}

// Glob matches workspace files against a doublestar pattern.
func (w *Workspace) Glob(pattern string) (map[string]any, error) {
	matches, err := doublestar.Glob(os.DirFS(w.Root), pattern)
	if err != nil {
		return nil, toolErrorf("glob %q: %v", pattern, err)
	}
	sort.Strings(matches)
	return map[string]any{"pattern": pattern, "matches": matches}, nil
}

// GrepMatch is one matching line.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Grep searches workspace files for a regular expression. path narrows the
// search to a subtree; .git is always skipped.
func (w *Workspace) Grep(pattern, path string) (map[string]any, error) {
	if path == "" {
		path = "."
	}
	abs, err := w.SafeJoin(path)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, toolErrorf("grep: bad pattern %q: %v", pattern, err)
	}

	var matches []GrepMatch
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(w.Root, p)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, GrepMatch{Path: rel, Line: i + 1, Text: line})
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, toolErrorf("grep %s: %v", path, walkErr)
	}
	return map[string]any{"pattern": pattern, "matches": matches}, nil
}

// Call dispatches a tool by name. Both the canonical snake_case names and
// the scenario's camelCase event names resolve to the same implementations.
func (w *Workspace) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "read_file", "readFile":
		return w.ReadFile(argString(args, "path"))
	case "write_file", "writeFile":
		text := argString(args, "text")
		if text == "" {
			text = argString(args, "content")
		}
		return w.WriteFile(argString(args, "path"), text)
	case "append_file", "appendFile":
		return w.AppendFile(argString(args, "path"), argString(args, "text"))
	case "replace_text", "replace_in_file", "replaceInFile":
		pattern := argString(args, "pattern")
		replacement := argString(args, "replacement")
		if pattern == "" {
			old := argString(args, "old")
			if old == "" {
				old = argString(args, "old_str")
			}
			if old == "" {
				return nil, toolErrorf("replace in %s: no pattern or old text given", argString(args, "path"))
			}
			pattern = regexp.QuoteMeta(old)
			if replacement == "" {
				replacement = argString(args, "new")
			}
			if replacement == "" {
				replacement = argString(args, "new_str")
			}
		}
		return w.ReplaceText(argString(args, "path"), pattern, replacement, argInt(args, "count"))
	case "edit_file", "editFile", "edit":
		old := argString(args, "old_string")
		if old == "" {
			return nil, toolErrorf("edit %s: old_string is required", argString(args, "path"))
		}
		// Single occurrence unless replace_all is set.
		count := 1
		if all, _ := args["replace_all"].(bool); all {
			count = 0
		}
		return w.ReplaceText(argString(args, "path"), regexp.QuoteMeta(old), argString(args, "new_string"), count)
	case "list_dir", "listDir":
		return w.ListDir(argString(args, "path"))
	case "glob", "find":
		return w.Glob(argString(args, "pattern"))
	case "grep":
		return w.Grep(argString(args, "pattern"), argString(args, "path"))
	case "run_command", "runCmd":
		cmd := argString(args, "cmd")
		if cmd == "" {
			cmd = argString(args, "command")
		}
		return w.RunCommand(ctx, cmd, argString(args, "cwd"))
	case "apply_patch", "applyPatch":
		return w.ApplyPatchFile(ctx, argString(args, "patchFile"))
	default:
		return nil, toolErrorf("unknown tool: %s", name)
	}
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
