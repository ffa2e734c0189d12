package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return New(t.TempDir())
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	w := newWorkspace(t)

	for _, path := range []string{"../outside", "a/../../outside", "../../etc/passwd"} {
		if _, err := w.SafeJoin(path); err == nil {
			t.Errorf("SafeJoin(%q) accepted an escaping path", path)
		}
	}
	if _, err := w.SafeJoin("sub/../inside.txt"); err != nil {
		t.Errorf("SafeJoin rejected an internal path: %v", err)
	}
	if _, err := w.SafeJoin("."); err != nil {
		t.Errorf("SafeJoin rejected the root: %v", err)
	}
}

func TestWriteReadAppend(t *testing.T) {
	w := newWorkspace(t)

	res, err := w.WriteFile("sub/dir/a.txt", "hello")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if res["bytes"] != 5 {
		t.Errorf("bytes = %v", res["bytes"])
	}

	if _, err := w.AppendFile("sub/dir/a.txt", " world"); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}

	got, err := w.ReadFile("sub/dir/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got["content"] != "hello world" {
		t.Errorf("content = %q", got["content"])
	}
}

func TestReplaceTextCountsAndLimits(t *testing.T) {
	w := newWorkspace(t)
	if _, err := w.WriteFile("f.txt", "aaa bbb aaa"); err != nil {
		t.Fatal(err)
	}

	res, err := w.ReplaceText("f.txt", "aaa", "xxx", 1)
	if err != nil {
		t.Fatalf("ReplaceText: %v", err)
	}
	if res["replaced"] != 1 {
		t.Errorf("replaced = %v", res["replaced"])
	}
	got, _ := w.ReadFile("f.txt")
	if got["content"] != "xxx bbb aaa" {
		t.Errorf("content = %q", got["content"])
	}

	res, err = w.ReplaceText("f.txt", "[ax]{3}", "---", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res["replaced"] != 2 {
		t.Errorf("replaced = %v", res["replaced"])
	}
}

func TestListDirSorted(t *testing.T) {
	w := newWorkspace(t)
	for _, name := range []string{"b.txt", "a.txt"} {
		if _, err := w.WriteFile(name, "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(w.Root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := w.ListDir(".")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	entries := res["entries"].([]map[string]any)
	if len(entries) != 3 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0]["name"] != "a.txt" || entries[1]["name"] != "b.txt" || entries[2]["name"] != "sub" {
		t.Errorf("order = %v", entries)
	}
	if entries[2]["is_dir"] != true {
		t.Errorf("sub not a dir: %v", entries[2])
	}
}

func TestGlobAndGrep(t *testing.T) {
	w := newWorkspace(t)
	files := map[string]string{
		"src/main.go":      "package main\n// TODO: fix\n",
		"src/util/util.go": "package util\n",
		"README.md":        "TODO: docs\n",
	}
	for path, content := range files {
		if _, err := w.WriteFile(path, content); err != nil {
			t.Fatal(err)
		}
	}

	res, err := w.Glob("src/**/*.go")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	matches := res["matches"].([]string)
	if len(matches) != 2 || matches[0] != "src/main.go" || matches[1] != "src/util/util.go" {
		t.Errorf("glob matches = %v", matches)
	}

	res, err = w.Grep("TODO", "")
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	found := res["matches"].([]GrepMatch)
	if len(found) != 2 {
		t.Fatalf("grep matches = %v", found)
	}
}

func TestRunCommand(t *testing.T) {
	w := newWorkspace(t)
	if _, err := w.WriteFile("sub/marker.txt", "x"); err != nil {
		t.Fatal(err)
	}

	res, err := w.RunCommand(context.Background(), "ls", "sub")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res["exit_code"] != 0 {
		t.Errorf("exit_code = %v, stderr = %q", res["exit_code"], res["stderr"])
	}
	if res["stdout"] != "marker.txt\n" {
		t.Errorf("stdout = %q", res["stdout"])
	}
}

func TestRunCommandNonZeroExit(t *testing.T) {
	w := newWorkspace(t)

	res, err := w.RunCommand(context.Background(), "exit 3", "")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if res["exit_code"] != 3 {
		t.Errorf("exit_code = %v", res["exit_code"])
	}
}

func TestCallDispatchesAliases(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	if _, err := w.Call(ctx, "writeFile", map[string]any{"path": "x.txt", "content": "hi"}); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	res, err := w.Call(ctx, "read_file", map[string]any{"path": "x.txt"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if res["content"] != "hi" {
		t.Errorf("content = %q", res["content"])
	}

	_, err = w.Call(ctx, "levitate", nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("unknown tool error = %v", err)
	}
}

func TestCallReplaceInFileOldStrNewStr(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	if _, err := w.WriteFile("greet.txt", "hello world\n"); err != nil {
		t.Fatal(err)
	}

	res, err := w.Call(ctx, "replaceInFile", map[string]any{
		"path": "greet.txt", "old_str": "world", "new_str": "there",
	})
	if err != nil {
		t.Fatalf("replaceInFile: %v", err)
	}
	if res["replaced"] != 1 {
		t.Errorf("replaced = %v", res["replaced"])
	}
	got, _ := w.ReadFile("greet.txt")
	if got["content"] != "hello there\n" {
		t.Errorf("content = %q", got["content"])
	}

	_, err = w.Call(ctx, "replaceInFile", map[string]any{"path": "greet.txt"})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("missing pattern error = %v", err)
	}
}

func TestCallEditFile(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()
	if _, err := w.WriteFile("main.py", "a()\na()\n"); err != nil {
		t.Fatal(err)
	}

	if _, err := w.Call(ctx, "editFile", map[string]any{
		"path": "main.py", "old_string": "a()", "new_string": "b()",
	}); err != nil {
		t.Fatalf("editFile: %v", err)
	}
	got, _ := w.ReadFile("main.py")
	if got["content"] != "b()\na()\n" {
		t.Errorf("single edit content = %q", got["content"])
	}

	if _, err := w.Call(ctx, "edit_file", map[string]any{
		"path": "main.py", "old_string": "()", "new_string": "(1)", "replace_all": true,
	}); err != nil {
		t.Fatal(err)
	}
	got, _ = w.ReadFile("main.py")
	if got["content"] != "b(1)\na(1)\n" {
		t.Errorf("replace_all content = %q", got["content"])
	}

	_, err := w.Call(ctx, "editFile", map[string]any{"path": "main.py"})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("missing old_string error = %v", err)
	}
}

func TestApplyPatchCreatesAndModifies(t *testing.T) {
	w := newWorkspace(t)
	if _, err := w.WriteFile("greet.txt", "hello\nworld\n"); err != nil {
		t.Fatal(err)
	}

	patch := `--- a/greet.txt
+++ b/greet.txt
@@ -1,2 +1,2 @@
 hello
-world
+there
`
	if _, err := w.ApplyPatch(context.Background(), []byte(patch)); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	got, _ := w.ReadFile("greet.txt")
	if got["content"] != "hello\nthere\n" {
		t.Errorf("content = %q", got["content"])
	}
}
