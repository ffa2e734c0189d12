package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mockagent/mockagent/recorder"
	"github.com/mockagent/mockagent/scenario"
)

const runnerScenario = `
name: runner-e2e
initialPrompt: Create hello.py
meta:
  instructions: be terse
  turn_context:
    model: gpt-5
    approval_policy: never
repo:
  files:
    - path: seed.txt
      contents: "seeded"
hooks:
  PostToolUse:
    - matcher: "*"
      hooks:
        - type: command
          command: "cat > hook-capture.json"
timeline:
  - llmResponse:
      - think:
          - [5, "planning"]
      - writeFile:
          path: hello.py
          content: "print(1)"
      - assistant:
          - [5, "done"]
  - userCommand:
      cmd: "echo ran > user-ran.txt"
  - complete: {}
  - assistant:
      - [0, "never played"]
expect:
  - fileExists: hello.py
`

func newTestRunner(t *testing.T, src string, opts Options) *Runner {
	t.Helper()

	doc, err := scenario.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Workspace == "" {
		opts.Workspace = t.TempDir()
	}
	if opts.Home == "" {
		opts.Home = t.TempDir()
	}
	r, err := New(doc, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.sleep = func(time.Duration) {}
	return r
}

func readTranscript(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var obj map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &obj); err != nil {
			t.Fatalf("bad transcript line: %v", err)
		}
		lines = append(lines, obj)
	}
	return lines
}

func entryTypes(lines []map[string]any) []string {
	var types []string
	for _, line := range lines {
		if s, ok := line["type"].(string); ok {
			types = append(types, s)
		}
	}
	return types
}

func TestRunFastModeEndToEnd(t *testing.T) {
	r := newTestRunner(t, runnerScenario, Options{FastMode: true})

	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Workspace effects.
	ws := r.opts.Workspace
	data, err := os.ReadFile(filepath.Join(ws, "hello.py"))
	if err != nil {
		t.Fatalf("hello.py not written: %v", err)
	}
	if string(data) != "print(1)" {
		t.Errorf("hello.py = %q", data)
	}
	if _, err := os.Stat(filepath.Join(ws, "seed.txt")); err != nil {
		t.Errorf("seed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "user-ran.txt")); err != nil {
		t.Errorf("user command did not run: %v", err)
	}

	// Hook fired with the mapped tool name.
	hookData, err := os.ReadFile(filepath.Join(ws, "hook-capture.json"))
	if err != nil {
		t.Fatalf("hook did not fire: %v", err)
	}
	var hookPayload map[string]any
	if err := json.Unmarshal(hookData, &hookPayload); err != nil {
		t.Fatalf("hook payload: %v", err)
	}
	if hookPayload["tool_name"] != "write_file" {
		t.Errorf("hook tool_name = %v", hookPayload["tool_name"])
	}
	if hookPayload["hook_event_name"] != "PostToolUse" {
		t.Errorf("hook event = %v", hookPayload["hook_event_name"])
	}

	// Transcript shape.
	lines := readTranscript(t, path)
	types := entryTypes(lines)
	want := []string{"session_meta", "turn_context", "message", "reasoning", "function_call", "function_call_output", "message"}
	if len(types) != len(want) {
		t.Fatalf("types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, types[i], want[i])
		}
	}

	call := lines[4]["payload"].(map[string]any)
	if call["name"] != "write_file" {
		t.Errorf("function_call = %+v", call)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call["arguments"].(string)), &args); err != nil {
		t.Fatal(err)
	}
	if args["path"] != "hello.py" || args["text"] != "print(1)" {
		t.Errorf("args = %+v", args)
	}

	// "never played" comes after complete and must not appear.
	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "never played") {
		t.Error("events after complete were played")
	}
}

func TestRealtimeMatchesFastModeTranscript(t *testing.T) {
	fast := newTestRunner(t, runnerScenario, Options{FastMode: true})
	fastPath, err := fast.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var slept time.Duration
	realtime := newTestRunner(t, runnerScenario, Options{})
	realtime.sleep = func(d time.Duration) { slept += d }
	realtimePath, err := realtime.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if slept != 10*time.Millisecond {
		t.Errorf("slept %v, want 10ms", slept)
	}

	fastTypes := entryTypes(readTranscript(t, fastPath))
	realTypes := entryTypes(readTranscript(t, realtimePath))
	if len(fastTypes) != len(realTypes) {
		t.Fatalf("fast=%v realtime=%v", fastTypes, realTypes)
	}
	for i := range fastTypes {
		if fastTypes[i] != realTypes[i] {
			t.Errorf("entry %d: fast=%s realtime=%s", i, fastTypes[i], realTypes[i])
		}
	}
}

func TestClaudeFormatMapsToolNames(t *testing.T) {
	src := `
name: claude-run
timeline:
  - runCmd:
      cmd: "true"
`
	r := newTestRunner(t, src, Options{FastMode: true, Format: recorder.FormatClaude})

	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"name":"Bash"`) {
		t.Errorf("claude transcript missing Bash tool use: %s", raw)
	}
}

func TestToolFailureDoesNotAbort(t *testing.T) {
	src := `
name: failing-tool
timeline:
  - readFile:
      path: does-not-exist.txt
  - assistant:
      - [0, "continued"]
`
	r := newTestRunner(t, src, Options{FastMode: true})

	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := readTranscript(t, path)
	var sawError, sawContinued bool
	for _, line := range lines {
		payload, _ := line["payload"].(map[string]any)
		if line["type"] == "function_call_output" && payload["is_error"] == true {
			sawError = true
		}
		if line["type"] == "message" {
			content := payload["content"].([]any)[0].(map[string]any)
			if content["text"] == "continued" {
				sawContinued = true
			}
		}
	}
	if !sawError {
		t.Error("tool failure not recorded as error output")
	}
	if !sawContinued {
		t.Error("scenario did not continue past tool failure")
	}
}

func TestUserEditsAppliesPatch(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "greet.txt"), []byte("hello\nworld\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	patch := `--- a/greet.txt
+++ b/greet.txt
@@ -1,2 +1,2 @@
 hello
-world
+there
`
	if err := os.WriteFile(filepath.Join(ws, "fix.patch"), []byte(patch), 0o644); err != nil {
		t.Fatal(err)
	}

	src := `
name: user-edits
timeline:
  - userEdits: fix.patch
  - assistant:
      - [0, "done"]
`
	r := newTestRunner(t, src, Options{FastMode: true, Workspace: ws})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(ws, "greet.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\nthere\n" {
		t.Errorf("greet.txt = %q", data)
	}
}

func TestReplaceInFileEventEditsWorkspace(t *testing.T) {
	src := `
name: replace-in-file
repo:
  files:
    - path: greet.txt
      contents: "hello world\n"
timeline:
  - replaceInFile:
      path: greet.txt
      old_str: world
      new_str: there
`
	r := newTestRunner(t, src, Options{FastMode: true})
	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(r.opts.Workspace, "greet.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello there\n" {
		t.Errorf("greet.txt = %q", data)
	}

	for _, line := range readTranscript(t, path) {
		payload, _ := line["payload"].(map[string]any)
		if line["type"] == "function_call_output" && payload["is_error"] == true {
			t.Errorf("edit recorded as error: %v", payload["output"])
		}
	}
}

func TestEditFileEventEditsWorkspace(t *testing.T) {
	src := `
name: edit-file
repo:
  files:
    - path: main.py
      contents: "print(1)\n"
timeline:
  - editFile:
      path: main.py
      old_string: print(1)
      new_string: print(2)
`
	r := newTestRunner(t, src, Options{FastMode: true})
	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(r.opts.Workspace, "main.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "print(2)\n" {
		t.Errorf("main.py = %q", data)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"name":"edit_file"`) {
		t.Errorf("transcript missing edit_file call: %s", raw)
	}
}

func TestRunCmdRecordsLocalShellCall(t *testing.T) {
	src := `
name: shell-entry
timeline:
  - runCmd:
      cmd: "true"
`
	r := newTestRunner(t, src, Options{FastMode: true})
	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var shell, output map[string]any
	for _, line := range readTranscript(t, path) {
		switch line["type"] {
		case "local_shell_call":
			shell = line["payload"].(map[string]any)
		case "function_call":
			t.Errorf("shell command recorded as function_call: %v", line)
		case "function_call_output":
			output = line["payload"].(map[string]any)
		}
	}
	if shell == nil {
		t.Fatal("no local_shell_call entry")
	}
	if shell["status"] != "completed" {
		t.Errorf("status = %v", shell["status"])
	}
	action := shell["action"].(map[string]any)
	if action["command"] != "true" {
		t.Errorf("action = %+v", action)
	}
	if output == nil || output["call_id"] != shell["call_id"] {
		t.Errorf("output = %+v, shell = %+v", output, shell)
	}
}

func TestScriptedToolResultOverridesOutput(t *testing.T) {
	src := `
name: scripted-result
timeline:
  - agentToolUse:
      toolName: runCmd
      args:
        cmd: "true"
      result:
        stdout: "scripted output"
`
	r := newTestRunner(t, src, Options{FastMode: true})
	path, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	lines := readTranscript(t, path)
	for _, line := range lines {
		if line["type"] != "function_call_output" {
			continue
		}
		payload := line["payload"].(map[string]any)
		out, _ := payload["output"].(string)
		if !strings.Contains(out, "scripted output") {
			t.Errorf("output = %q", out)
		}
		return
	}
	t.Fatal("no function_call_output entry")
}

func TestCheckpointRunsAfterToolUse(t *testing.T) {
	src := `
name: checkpoint
timeline:
  - writeFile:
      path: a.txt
      content: x
`
	r := newTestRunner(t, src, Options{
		FastMode:      true,
		CheckpointCmd: "echo ok >> checkpoints.log",
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(r.opts.Workspace, "checkpoints.log"))
	if err != nil {
		t.Fatalf("checkpoint did not run: %v", err)
	}
	if strings.Count(string(data), "ok") != 1 {
		t.Errorf("checkpoint log = %q", data)
	}
}

func TestScreenshotSkippedWithoutChannel(t *testing.T) {
	src := `
name: screenshot-skip
timeline:
  - screenshot: before-exit
  - assistant:
      - [0, "done"]
`
	r := newTestRunner(t, src, Options{FastMode: true})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("screenshot without channel should not fail the run: %v", err)
	}
}

func TestDialFailureIsFatalWhenURIGiven(t *testing.T) {
	doc, err := scenario.Parse([]byte("name: x\ntimeline:\n  - complete: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(doc, Options{
		Workspace:     t.TempDir(),
		Home:          t.TempDir(),
		TUITestingURI: "ws://127.0.0.1:1/nope",
	})
	if err == nil {
		t.Fatal("expected dial failure to be fatal")
	}
}

func TestResolvePointer(t *testing.T) {
	var doc any
	if err := json.Unmarshal([]byte(`{"a":{"b":[1,2,{"c":"x"}]},"e~f":{"g/h":true}}`), &doc); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pointer string
		want    any
		ok      bool
	}{
		{"/a/b/0", float64(1), true},
		{"/a/b/2/c", "x", true},
		{"/e~0f/g~1h", true, true},
		{"", doc, true},
		{"/a/missing", nil, false},
		{"/a/b/9", nil, false},
	}
	for _, tt := range tests {
		got, err := resolvePointer(doc, tt.pointer)
		if tt.ok != (err == nil) {
			t.Errorf("%q: err = %v", tt.pointer, err)
			continue
		}
		if tt.ok && !jsonValueEqual(got, tt.want) {
			t.Errorf("%q = %v, want %v", tt.pointer, got, tt.want)
		}
	}
}
