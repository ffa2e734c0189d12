package tools

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// ApplyPatchFile reads a unified diff from a workspace-relative path and
// applies it.
func (w *Workspace) ApplyPatchFile(ctx context.Context, patchFile string) (map[string]any, error) {
	abs, err := w.SafeJoin(patchFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, toolErrorf("apply_patch: read %s: %v", patchFile, err)
	}
	return w.ApplyPatch(ctx, data)
}

// ApplyPatch applies a unified diff to the workspace. Files are patched
// in-memory first; if the structured apply fails the diff is handed to
// patch(1) as a fallback.
func (w *Workspace) ApplyPatch(ctx context.Context, data []byte) (map[string]any, error) {
	files, _, err := gitdiff.Parse(bytes.NewReader(data))
	if err == nil && len(files) > 0 {
		applied, applyErr := w.applyParsed(files)
		if applyErr == nil {
			return map[string]any{"applied": applied}, nil
		}
		log.Printf("WARN: structured patch apply failed (%v), falling back to patch(1)", applyErr)
	} else if err != nil {
		log.Printf("WARN: patch parse failed (%v), falling back to patch(1)", err)
	}

	if err := w.applyWithPatchCmd(ctx, data); err != nil {
		return nil, toolErrorf("apply_patch: %v", err)
	}
	return map[string]any{"applied": countDiffFiles(files)}, nil
}

func (w *Workspace) applyParsed(files []*gitdiff.File) ([]string, error) {
	var applied []string
	for _, file := range files {
		name := file.NewName
		if name == "" {
			name = file.OldName
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, "a/"), "b/")

		abs, err := w.SafeJoin(name)
		if err != nil {
			return nil, err
		}

		if file.IsDelete {
			if err := os.Remove(abs); err != nil {
				return nil, fmt.Errorf("delete %s: %w", name, err)
			}
			applied = append(applied, name)
			continue
		}

		var src []byte
		if !file.IsNew {
			src, err = os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
		}

		var out bytes.Buffer
		if err := gitdiff.Apply(&out, bytes.NewReader(src), file); err != nil {
			return nil, fmt.Errorf("apply to %s: %w", name, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("apply to %s: %w", name, err)
		}
		if err := os.WriteFile(abs, out.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("apply to %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// applyWithPatchCmd shells out to patch(1), trying -p1 then -p0.
func (w *Workspace) applyWithPatchCmd(ctx context.Context, data []byte) error {
	var lastErr error
	for _, strip := range []string{"-p1", "-p0"} {
		cmd := exec.CommandContext(ctx, "patch", strip, "-d", w.Root)
		cmd.Stdin = bytes.NewReader(data)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err == nil {
			return nil
		} else {
			lastErr = fmt.Errorf("patch %s: %w: %s", strip, err, strings.TrimSpace(out.String()))
		}
	}
	return lastErr
}

func countDiffFiles(files []*gitdiff.File) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		name := f.NewName
		if name == "" {
			name = f.OldName
		}
		names = append(names, strings.TrimPrefix(strings.TrimPrefix(name, "a/"), "b/"))
	}
	return names
}
