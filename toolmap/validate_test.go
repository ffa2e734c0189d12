package toolmap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestValidator(t *testing.T, strict bool) (*Validator, string) {
	t.Helper()
	dir := t.TempDir()
	v, err := NewValidator(context.Background(), NewProfiles(), ProfileCodex, "0.42.0", strict, dir)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v, dir
}

func capturePath(dir string) string {
	return filepath.Join(dir, CaptureDirName, "codex", "0.42.0", "request.json")
}

func TestCheckToolDefinitionsAllKnown(t *testing.T) {
	v, dir := newTestValidator(t, true)

	defs := []map[string]any{
		{"name": "write_file"},
		{"function": map[string]any{"name": "run_command"}},
	}
	if err := v.CheckToolDefinitions(context.Background(), defs, []byte(`{}`)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := os.Stat(capturePath(dir)); !os.IsNotExist(err) {
		t.Fatalf("expected no capture file, stat err = %v", err)
	}
}

func TestCheckToolDefinitionsUnknownWarns(t *testing.T) {
	v, dir := newTestValidator(t, false)

	body := []byte(`{"tools":[{"name":"teleport"}]}`)
	if err := v.CheckToolDefinitions(context.Background(), []map[string]any{{"name": "teleport"}}, body); err != nil {
		t.Fatalf("non-strict mode should not error, got %v", err)
	}

	data, err := os.ReadFile(capturePath(dir))
	if err != nil {
		t.Fatalf("capture file not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("capture file is empty")
	}
}

func TestCheckToolDefinitionsUnknownStrictRejects(t *testing.T) {
	v, dir := newTestValidator(t, true)

	err := v.CheckToolDefinitions(context.Background(), []map[string]any{{"name": "teleport"}}, []byte(`{}`))
	if err == nil {
		t.Fatal("strict mode should reject unknown tool")
	}
	if _, statErr := os.Stat(capturePath(dir)); statErr != nil {
		t.Fatalf("capture expected before reject: %v", statErr)
	}
}

func TestForceFailureCapturesValidSet(t *testing.T) {
	t.Setenv(ForceFailureEnv, "true")
	v, dir := newTestValidator(t, false)

	if err := v.CheckToolCalls(context.Background(), []map[string]any{{"name": "write_file"}}, []byte(`{}`)); err != nil {
		t.Fatalf("forced failure in non-strict mode should not error, got %v", err)
	}
	if _, err := os.Stat(capturePath(dir)); err != nil {
		t.Fatalf("forced failure should capture the request: %v", err)
	}
}

func TestCaptureOverwritesSamePath(t *testing.T) {
	v, dir := newTestValidator(t, false)
	defs := []map[string]any{{"name": "teleport"}}

	if err := v.CheckToolDefinitions(context.Background(), defs, []byte(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := v.CheckToolDefinitions(context.Background(), defs, []byte(`{"n":2}`)); err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(dir, CaptureDirName)
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected a single capture file, got %v", files)
	}
	data, _ := os.ReadFile(files[0])
	if !strings.Contains(string(data), "\"n\": 2") {
		t.Fatalf("capture not overwritten with latest body: %s", data)
	}
}
