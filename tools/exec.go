package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/creack/pty"
)

// RunCommand executes a shell command inside the workspace. cwd is resolved
// against the workspace root; empty means the root itself. A non-zero exit
// is reported in the result, not as an error.
func (w *Workspace) RunCommand(ctx context.Context, command, cwd string) (map[string]any, error) {
	if command == "" {
		return nil, toolErrorf("run_command: empty command")
	}

	dir := w.Root
	if cwd != "" {
		abs, err := w.SafeJoin(cwd)
		if err != nil {
			return nil, err
		}
		dir = abs
	}

	if w.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.CommandTimeout)
		defer cancel()
	}

	if w.UsePty {
		return runPty(ctx, command, dir)
	}
	return runPlain(ctx, command, dir)
}

func runPlain(ctx context.Context, command, dir string) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return nil, toolErrorf("run_command: %v", ctx.Err())
		} else {
			return nil, fmt.Errorf("run_command: %w", err)
		}
	}

	return map[string]any{
		"command":   command,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}

// runPty executes the command under a pseudo-terminal. Output is a single
// interleaved stream, which is what a streaming TUI would see.
func runPty(ctx context.Context, command, dir string) (map[string]any, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("run_command: start pty: %w", err)
	}
	defer ptmx.Close()

	done := make(chan struct{})
	var out bytes.Buffer
	go func() {
		defer close(done)
		// Reading ends with an EIO once the child closes its side; that is
		// the normal pty termination signal, not a failure.
		io.Copy(&out, ptmx)
	}()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	select {
	case err = <-waited:
		<-done
	case <-ctx.Done():
		cmd.Process.Kill()
		<-waited
		<-done
		return nil, toolErrorf("run_command: %v", ctx.Err())
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run_command: %w", err)
		}
	}

	return map[string]any{
		"command":   command,
		"stdout":    out.String(),
		"exit_code": exitCode,
	}, nil
}
