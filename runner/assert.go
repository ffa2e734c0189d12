package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/mockagent/mockagent/scenario"
)

// evaluateExpectations checks every expect-block assertion against the
// finished workspace, logging pass/fail per assertion without aborting.
func (r *Runner) evaluateExpectations(ctx context.Context) {
	for i, check := range r.doc.Expect {
		r.evaluateAssertion(ctx, check, fmt.Sprintf("expect[%d]", i))
	}
}

func (r *Runner) evaluateAssertion(ctx context.Context, check scenario.Assertion, label string) {
	if err := r.checkAssertion(ctx, check); err != nil {
		log.Printf("ASSERT %s FAILED: %v", label, err)
		return
	}
	log.Printf("ASSERT %s ok", label)
}

func (r *Runner) checkAssertion(ctx context.Context, check scenario.Assertion) error {
	switch {
	case check.FileExists != "":
		abs, err := r.ws.SafeJoin(check.FileExists)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("file %s does not exist", check.FileExists)
		}
		return nil

	case check.FileContains != nil:
		fc := check.FileContains
		abs, err := r.ws.SafeJoin(fc.Path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", fc.Path, err)
		}
		if !strings.Contains(string(data), fc.Text) {
			return fmt.Errorf("file %s does not contain %q", fc.Path, fc.Text)
		}
		return nil

	case check.JSONEquals != nil:
		jc := check.JSONEquals
		abs, err := r.ws.SafeJoin(jc.Path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", jc.Path, err)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", jc.Path, err)
		}
		got, err := resolvePointer(doc, jc.Pointer)
		if err != nil {
			return fmt.Errorf("%s in %s: %w", jc.Pointer, jc.Path, err)
		}
		if !jsonValueEqual(got, jc.Value) {
			return fmt.Errorf("%s in %s = %v, want %v", jc.Pointer, jc.Path, got, jc.Value)
		}
		return nil

	case check.CommitMsg != "":
		result, err := r.ws.RunCommand(ctx, "git log -1 --pretty=%B", "")
		if err != nil {
			return fmt.Errorf("git log: %w", err)
		}
		if code, _ := result["exit_code"].(int); code != 0 {
			return fmt.Errorf("git log exited %d: %s", code, result["stderr"])
		}
		msg, _ := result["stdout"].(string)
		if !strings.Contains(msg, check.CommitMsg) {
			return fmt.Errorf("commit message %q does not contain %q", strings.TrimSpace(msg), check.CommitMsg)
		}
		return nil
	}
	return fmt.Errorf("empty assertion")
}

// resolvePointer walks an RFC 6901 JSON pointer.
func resolvePointer(doc any, pointer string) (any, error) {
	if pointer == "" {
		return doc, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("invalid pointer %q", pointer)
	}

	current := doc
	for _, token := range strings.Split(pointer[1:], "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		switch node := current.(type) {
		case map[string]any:
			child, ok := node[token]
			if !ok {
				return nil, fmt.Errorf("key %q not found", token)
			}
			current = child
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index %q out of range", token)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T with %q", current, token)
		}
	}
	return current, nil
}

// jsonValueEqual compares a decoded JSON value with a YAML-decoded expected
// value, normalizing both through a JSON round trip so numeric types agree.
func jsonValueEqual(got, want any) bool {
	gotJSON, err := json.Marshal(got)
	if err != nil {
		return false
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false
	}
	var a, b any
	if json.Unmarshal(gotJSON, &a) != nil || json.Unmarshal(wantJSON, &b) != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
