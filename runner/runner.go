// Package runner plays a scenario end to end without an HTTP layer, acting
// as both LLM and agent: it executes tool implementations against a real
// workspace, fires lifecycle hooks, and records a session transcript.
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mockagent/mockagent/recorder"
	"github.com/mockagent/mockagent/scenario"
	"github.com/mockagent/mockagent/toolmap"
	"github.com/mockagent/mockagent/tools"
)

// Options configures a scenario run.
type Options struct {
	Workspace     string
	Format        recorder.Format
	FastMode      bool
	Interactive   bool
	CheckpointCmd string
	TUITestingURI string

	// Home is the transcript root (defaults to ~/.codex or ~/.claude by
	// format).
	Home string

	ToolTimeout       time.Duration
	HookTimeout       time.Duration
	CheckpointTimeout time.Duration
	UsePty            bool

	// Input is the interactive input source; defaults to stdin.
	Input io.Reader
}

// Runner executes one scenario document.
type Runner struct {
	doc      *scenario.Document
	opts     Options
	ws       *tools.Workspace
	rec      recorder.Recorder
	profiles *toolmap.Profiles
	profile  toolmap.Profile
	shots    *ScreenshotClient
	input    *bufio.Reader

	lastCallID string
	// sleep is stubbed in tests.
	sleep func(time.Duration)
}

// New prepares a runner: workspace seeding, transcript writer, and the
// optional screenshot channel. A screenshot URI that cannot be reached is
// fatal here; an absent URI just disables captures.
func New(doc *scenario.Document, opts Options) (*Runner, error) {
	if opts.Format == "" {
		opts.Format = recorder.FormatCodex
	}
	if opts.ToolTimeout == 0 {
		opts.ToolTimeout = 60 * time.Second
	}
	if opts.HookTimeout == 0 {
		opts.HookTimeout = 30 * time.Second
	}
	if opts.CheckpointTimeout == 0 {
		opts.CheckpointTimeout = 60 * time.Second
	}
	if opts.Home == "" {
		home, _ := os.UserHomeDir()
		switch opts.Format {
		case recorder.FormatClaude:
			opts.Home = filepath.Join(home, ".claude")
		default:
			opts.Home = filepath.Join(home, ".codex")
		}
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}

	ws := tools.New(opts.Workspace)
	ws.CommandTimeout = opts.ToolTimeout
	ws.UsePty = opts.UsePty

	rec, err := recorder.New(opts.Format, recorder.Options{
		Home:         opts.Home,
		Cwd:          opts.Workspace,
		Originator:   "mock-agent",
		CLIVersion:   "0.1.0",
		Instructions: doc.Meta.Instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	profile := toolmap.ProfileCodex
	if opts.Format == recorder.FormatClaude {
		profile = toolmap.ProfileClaude
	}

	r := &Runner{
		doc:      doc,
		opts:     opts,
		ws:       ws,
		rec:      rec,
		profiles: toolmap.NewProfiles(),
		profile:  profile,
		input:    bufio.NewReader(opts.Input),
		sleep:    time.Sleep,
	}

	if opts.TUITestingURI != "" {
		shots, err := DialScreenshot(opts.TUITestingURI, 5*time.Second)
		if err != nil {
			rec.Close()
			return nil, fmt.Errorf("tui testing channel %s: %w", opts.TUITestingURI, err)
		}
		r.shots = shots
	}
	return r, nil
}

// Run plays the scenario and returns the transcript path. Tool and hook
// failures are recorded and never abort the run; a cancelled context stops
// between events after flushing the transcript.
func (r *Runner) Run(ctx context.Context) (string, error) {
	defer r.rec.Close()
	if r.shots != nil {
		defer r.shots.Close()
	}

	if err := r.seedWorkspace(ctx); err != nil {
		return "", err
	}

	if len(r.doc.Meta.TurnContext) > 0 {
		if err := r.rec.TurnContext(r.doc.Meta.TurnContext); err != nil {
			log.Printf("WARN: record turn context: %v", err)
		}
	}
	if r.doc.InitialPrompt != "" {
		if err := r.rec.Message("user", r.doc.InitialPrompt); err != nil {
			log.Printf("WARN: record initial prompt: %v", err)
		}
	}

	var events []scenario.TimedEvent
	if r.opts.FastMode {
		events = scenario.FastSchedule(r.doc)
	} else {
		events = scenario.Flatten(r.doc)
	}

	for _, ev := range events {
		select {
		case <-ctx.Done():
			log.Printf("WARN: run interrupted, flushing transcript")
			r.rec.Flush()
			return r.rec.Path(), ctx.Err()
		default:
		}

		done := r.playEvent(ctx, ev.Elem)
		if !r.opts.FastMode && ev.DelayMs > 0 {
			r.sleep(time.Duration(ev.DelayMs) * time.Millisecond)
		}
		if done {
			break
		}
	}

	r.evaluateExpectations(ctx)

	if err := r.rec.Flush(); err != nil {
		log.Printf("WARN: flush transcript: %v", err)
	}
	return r.rec.Path(), nil
}

// playEvent dispatches one flattened event. It returns true when the
// scenario declared itself complete.
func (r *Runner) playEvent(ctx context.Context, elem scenario.Element) bool {
	switch e := elem.(type) {
	case scenario.Think:
		for _, line := range e.Lines {
			if err := r.rec.Reasoning(line.Text); err != nil {
				log.Printf("WARN: record reasoning: %v", err)
			}
		}
	case scenario.Assistant:
		for _, line := range e.Lines {
			if err := r.rec.Message("assistant", line.Text); err != nil {
				log.Printf("WARN: record assistant: %v", err)
			}
		}
	case scenario.ToolUse:
		r.execTool(ctx, e)
	case scenario.Edits:
		r.recordEdit(ctx, e)
	case scenario.ErrorEvent:
		msg := e.Message
		if msg == "" {
			msg = e.Type
		}
		log.Printf("scenario error event: %s", msg)
		if err := r.rec.Message("assistant", "Error: "+msg); err != nil {
			log.Printf("WARN: record error event: %v", err)
		}
	case scenario.ToolResult:
		out, _ := json.Marshal(e.Value)
		if err := r.rec.FunctionCallOutput(r.lastCallID, string(out), false); err != nil {
			log.Printf("WARN: record tool result: %v", err)
		}
	case scenario.Advance:
		// Time drift only; realtime pacing is handled by the caller via
		// the event's delay.
	case scenario.Screenshot:
		r.captureScreenshot(e.Label)
	case scenario.Assert:
		r.evaluateAssertion(ctx, e.Check, "inline")
	case scenario.Complete:
		log.Printf("scenario complete")
		return true
	case scenario.Merge:
		log.Printf("merge requested; left to the harness")
	case scenario.UserInputs:
		r.playUserInputs(e)
	case scenario.UserEdits:
		r.applyUserEdits(ctx, e)
	case scenario.UserCommand:
		r.runUserCommand(ctx, e)
	}
	return false
}

// shellRecorder is implemented by transcript writers with a dedicated
// shell-invocation entry type.
type shellRecorder interface {
	LocalShellCall(command, cwd, status, callID string) (string, error)
}

// execTool records and executes one agent tool invocation. Failures are
// recorded as error outputs; hooks and the checkpoint command still run.
func (r *Runner) execTool(ctx context.Context, e scenario.ToolUse) {
	mapped := r.profiles.MapToolCall(r.profile, e.Tool, e.Args)
	r.lastCallID = mapped.ID

	// Shell commands get their own entry type when the transcript format
	// has one; everything else is a plain function call.
	shellRec, isShell := r.rec.(shellRecorder)
	isShell = isShell && mapped.Name == "run_command"

	if !isShell {
		argsJSON, err := json.Marshal(mapped.Args)
		if err != nil {
			argsJSON = []byte("{}")
		}
		if err := r.rec.FunctionCall(mapped.Name, string(argsJSON), mapped.ID); err != nil {
			log.Printf("WARN: record function call: %v", err)
		}
	}

	toolCtx, cancel := context.WithTimeout(ctx, r.opts.ToolTimeout)
	result, execErr := r.ws.Call(toolCtx, e.Tool, e.Args)
	cancel()

	if isShell {
		command, _ := mapped.Args["command"].(string)
		cwd, _ := mapped.Args["cwd"].(string)
		if _, err := shellRec.LocalShellCall(command, cwd, "completed", mapped.ID); err != nil {
			log.Printf("WARN: record shell call: %v", err)
		}
	}

	var output string
	isError := execErr != nil
	if isError {
		output = execErr.Error()
		log.Printf("WARN: tool %s failed: %v", e.Tool, execErr)
	} else if e.Result != nil {
		// Scripted result wins over the real one in the transcript.
		out, _ := json.Marshal(e.Result)
		output = string(out)
	} else {
		out, _ := json.Marshal(result)
		output = string(out)
	}
	if err := r.rec.FunctionCallOutput(mapped.ID, output, isError); err != nil {
		log.Printf("WARN: record function output: %v", err)
	}

	r.fireHooks(ctx, "PostToolUse", mapped.Name, map[string]any{
		"hook_event_name": "PostToolUse",
		"tool_name":       mapped.Name,
		"tool_input":      mapped.Args,
		"tool_response":   output,
		"transcript_path": r.rec.Path(),
		"cwd":             r.opts.Workspace,
	})
	r.runCheckpoint(ctx)
}

// recordEdit records a summarized agent edit without executing anything.
func (r *Runner) recordEdit(ctx context.Context, e scenario.Edits) {
	mapped := r.profiles.MapToolCall(r.profile, "agentEdits", map[string]any{
		"path":         e.Path,
		"linesAdded":   e.LinesAdded,
		"linesRemoved": e.LinesRemoved,
	})
	r.lastCallID = mapped.ID

	argsJSON, _ := json.Marshal(mapped.Args)
	if err := r.rec.FunctionCall(mapped.Name, string(argsJSON), mapped.ID); err != nil {
		log.Printf("WARN: record edit: %v", err)
	}

	r.fireHooks(ctx, "PostToolUse", mapped.Name, map[string]any{
		"hook_event_name": "PostToolUse",
		"tool_name":       mapped.Name,
		"tool_input":      mapped.Args,
		"transcript_path": r.rec.Path(),
		"cwd":             r.opts.Workspace,
	})
	r.runCheckpoint(ctx)
}

func (r *Runner) playUserInputs(e scenario.UserInputs) {
	for _, scripted := range e.Lines {
		text := scripted.Text
		if r.opts.Interactive {
			fmt.Printf("user> ")
			entered, err := r.input.ReadString('\n')
			if err == nil && strings.TrimSpace(entered) != "" {
				text = strings.TrimRight(entered, "\n")
			}
		} else {
			log.Printf("user input: %s", text)
		}
		if err := r.rec.Message("user", text); err != nil {
			log.Printf("WARN: record user input: %v", err)
		}
	}
}

func (r *Runner) applyUserEdits(ctx context.Context, e scenario.UserEdits) {
	if e.PatchFile == "" {
		log.Printf("WARN: userEdits without patch file, skipping")
		return
	}
	result, err := r.ws.ApplyPatchFile(ctx, e.PatchFile)
	if err != nil {
		log.Printf("WARN: userEdits patch %s failed: %v", e.PatchFile, err)
		return
	}
	log.Printf("user edits applied: %v", result["applied"])
	r.runCheckpoint(ctx)
}

func (r *Runner) runUserCommand(ctx context.Context, e scenario.UserCommand) {
	result, err := r.ws.RunCommand(ctx, e.Cmd, e.Cwd)
	if err != nil {
		log.Printf("WARN: user command %q failed: %v", e.Cmd, err)
		return
	}
	log.Printf("user command %q exit=%v", e.Cmd, result["exit_code"])
}

func (r *Runner) captureScreenshot(label string) {
	if r.shots == nil {
		log.Printf("WARN: screenshot %q skipped, no test channel configured", label)
		return
	}
	if err := r.shots.Capture(label); err != nil {
		log.Printf("WARN: screenshot %q failed: %v", label, err)
	}
}

// seedWorkspace creates the workspace tree and optional git repository
// described by the scenario's repo block.
func (r *Runner) seedWorkspace(ctx context.Context) error {
	if err := os.MkdirAll(r.opts.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	repo := r.doc.Repo
	if repo == nil {
		return nil
	}

	for _, dir := range repo.Dirs {
		abs, err := r.ws.SafeJoin(dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("seed dir %s: %w", dir, err)
		}
	}
	for _, file := range repo.Files {
		if _, err := r.ws.WriteFile(file.Path, file.Contents); err != nil {
			return fmt.Errorf("seed file %s: %w", file.Path, err)
		}
	}

	if repo.Init {
		branch := repo.Branch
		if branch == "" {
			branch = "main"
		}
		cmds := []string{
			fmt.Sprintf("git init -q -b %s", branch),
			"git add -A",
			`git -c user.email=mock@example.com -c user.name=mock commit -q -m "initial scenario state" --allow-empty`,
		}
		for _, cmd := range cmds {
			result, err := r.ws.RunCommand(ctx, cmd, "")
			if err != nil {
				return fmt.Errorf("seed repo: %w", err)
			}
			if code, _ := result["exit_code"].(int); code != 0 {
				return fmt.Errorf("seed repo: %q exited %d: %s", cmd, code, result["stderr"])
			}
		}
	}
	return nil
}

// runCheckpoint invokes the external checkpoint command, if configured.
func (r *Runner) runCheckpoint(ctx context.Context) {
	if r.opts.CheckpointCmd == "" {
		return
	}
	cpCtx, cancel := context.WithTimeout(ctx, r.opts.CheckpointTimeout)
	defer cancel()
	result, err := r.ws.RunCommand(cpCtx, r.opts.CheckpointCmd, "")
	if err != nil {
		log.Printf("WARN: checkpoint command failed: %v", err)
		return
	}
	if code, _ := result["exit_code"].(int); code != 0 {
		log.Printf("WARN: checkpoint command exited %d", code)
	}
}
