package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os/exec"
	"regexp"
	"time"
)

// fireHooks runs every configured hook command matching the lifecycle
// event and tool name. Hooks receive the JSON payload on stdin and are
// killed at their timeout; failures are logged and never abort the run.
func (r *Runner) fireHooks(ctx context.Context, event, toolName string, payload map[string]any) {
	matchers := r.doc.Hooks[event]
	if len(matchers) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("WARN: hook payload marshal: %v", err)
		return
	}

	for _, matcher := range matchers {
		if !matcherApplies(matcher.Matcher, toolName) {
			continue
		}
		for _, hook := range matcher.Hooks {
			if hook.Type != "" && hook.Type != "command" {
				log.Printf("WARN: unsupported hook type %q, skipping", hook.Type)
				continue
			}
			timeout := r.opts.HookTimeout
			if hook.TimeoutSec > 0 {
				timeout = time.Duration(hook.TimeoutSec) * time.Second
			}
			r.runHookCommand(ctx, event, hook.Command, data, timeout)
		}
	}
}

// matcherApplies reports whether a hook matcher selects the tool. "*" and
// the empty matcher select everything; otherwise the matcher is an exact
// name or a regular expression.
func matcherApplies(matcher, toolName string) bool {
	if matcher == "" || matcher == "*" {
		return true
	}
	if matcher == toolName {
		return true
	}
	re, err := regexp.Compile("^(?:" + matcher + ")$")
	if err != nil {
		return false
	}
	return re.MatchString(toolName)
}

func (r *Runner) runHookCommand(ctx context.Context, event, command string, payload []byte, timeout time.Duration) {
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, "sh", "-c", command)
	cmd.Dir = r.opts.Workspace
	cmd.Stdin = bytes.NewReader(payload)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if hookCtx.Err() == context.DeadlineExceeded {
			log.Printf("WARN: %s hook %q timed out after %s, killed", event, command, timeout)
			return
		}
		log.Printf("WARN: %s hook %q failed: %v: %s", event, command, err, out.String())
	}
}
