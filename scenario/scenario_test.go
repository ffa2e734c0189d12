package scenario

import (
	"strings"
	"testing"
)

const sampleScenario = `
name: hello-workflow
initialPrompt: Create hello.py
repo:
  init: true
  files:
    - path: README.md
      contents: "demo"
meta:
  instructions: Be terse.
hooks:
  PostToolUse:
    - matcher: "*"
      hooks:
        - type: command
          command: "touch .hook-ran"
          timeout: 5
expect:
  - fileExists: hello.py
  - fileContains:
      path: hello.py
      text: print
timeline:
  - llmResponse:
      - think:
          - [100, "Looking at the task"]
          - [50, "Will write a file"]
      - writeFile:
          path: hello.py
          content: "print(1)"
      - assistant:
          - [10, "Done."]
  - agentActions:
      - runCmd:
          cmd: python hello.py
      - agentEdits:
          path: hello.py
          linesAdded: 1
          linesRemoved: 0
  - userActions:
      - userInputs:
          - [500, "looks good"]
      - advanceMs: 2000
  - complete: {}
`

func TestParseGroupedSteps(t *testing.T) {
	doc, err := Parse([]byte(sampleScenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if doc.Name != "hello-workflow" {
		t.Errorf("name = %q", doc.Name)
	}
	if doc.InitialPrompt != "Create hello.py" {
		t.Errorf("initialPrompt = %q", doc.InitialPrompt)
	}
	if doc.Repo == nil || !doc.Repo.Init || len(doc.Repo.Files) != 1 {
		t.Errorf("repo config = %+v", doc.Repo)
	}
	if len(doc.Hooks["PostToolUse"]) != 1 {
		t.Errorf("hooks = %+v", doc.Hooks)
	}
	if len(doc.Expect) != 2 {
		t.Errorf("expect = %+v", doc.Expect)
	}
	if len(doc.Timeline) != 4 {
		t.Fatalf("timeline length = %d", len(doc.Timeline))
	}

	step := doc.Timeline[0]
	if step.Form != StepLLMResponse || len(step.Elements) != 3 {
		t.Fatalf("step 0 = %+v", step)
	}
	think, ok := step.Elements[0].(Think)
	if !ok || len(think.Lines) != 2 {
		t.Fatalf("step 0 elem 0 = %#v", step.Elements[0])
	}
	if think.Lines[0].DelayMs != 100 || think.Lines[0].Text != "Looking at the task" {
		t.Errorf("think line = %+v", think.Lines[0])
	}
	tool, ok := step.Elements[1].(ToolUse)
	if !ok || tool.Tool != "writeFile" {
		t.Fatalf("step 0 elem 1 = %#v", step.Elements[1])
	}
	if tool.Args["path"] != "hello.py" || tool.Args["content"] != "print(1)" {
		t.Errorf("writeFile args = %+v", tool.Args)
	}

	actions := doc.Timeline[1]
	if actions.Form != StepAgentActions || len(actions.Elements) != 2 {
		t.Fatalf("step 1 = %+v", actions)
	}
	edits, ok := actions.Elements[1].(Edits)
	if !ok || edits.Path != "hello.py" || edits.LinesAdded != 1 {
		t.Fatalf("step 1 elem 1 = %#v", actions.Elements[1])
	}

	user := doc.Timeline[2]
	if user.Form != StepUserActions {
		t.Fatalf("step 2 form = %v", user.Form)
	}
	if _, ok := user.Elements[1].(Advance); !ok {
		t.Fatalf("step 2 elem 1 = %#v", user.Elements[1])
	}

	last := doc.Timeline[3]
	if last.Form != StepLegacy {
		t.Fatalf("step 3 form = %v", last.Form)
	}
	if _, ok := last.Elements[0].(Complete); !ok {
		t.Fatalf("step 3 elem = %#v", last.Elements[0])
	}
}

func TestParseLegacySingleEventSteps(t *testing.T) {
	doc, err := Parse([]byte(`
name: legacy
timeline:
  - think:
      - [0, "hm"]
  - agentToolUse:
      toolName: runCmd
      args:
        cmd: ls
      status: completed
  - advanceMs: 150
  - merge: {}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i, step := range doc.Timeline {
		if step.Form != StepLegacy || len(step.Elements) != 1 {
			t.Fatalf("step %d = %+v", i, step)
		}
	}
	tool := doc.Timeline[1].Elements[0].(ToolUse)
	if tool.Tool != "runCmd" || tool.Status != "completed" {
		t.Errorf("agentToolUse = %+v", tool)
	}
	adv := doc.Timeline[2].Elements[0].(Advance)
	if adv.Ms != 150 {
		t.Errorf("advanceMs = %d", adv.Ms)
	}
}

func TestParseRejectsMultiKeyStep(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
timeline:
  - think:
      - [0, "x"]
    advanceMs: 10
`))
	if err == nil || !strings.Contains(err.Error(), "exactly one event key") {
		t.Fatalf("expected single-discriminant error, got %v", err)
	}
}

func TestParseRejectsEmptyTimeline(t *testing.T) {
	if _, err := Parse([]byte("name: empty\ntimeline: []\n")); err == nil {
		t.Fatal("expected error for empty timeline")
	}
}

func TestParseRejectsMalformedTimedText(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
timeline:
  - think:
      - [100]
`))
	if err == nil {
		t.Fatal("expected error for one-element timed text")
	}
}

func TestUnknownEventKeyParsesAsNamedTool(t *testing.T) {
	doc, err := Parse([]byte(`
name: fwd-compat
timeline:
  - agentActions:
      - deployToProd:
          env: staging
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tool, ok := doc.Timeline[0].Elements[0].(ToolUse)
	if !ok || tool.Tool != "deployToProd" {
		t.Fatalf("element = %#v", doc.Timeline[0].Elements[0])
	}
	if tool.Args["env"] != "staging" {
		t.Errorf("args = %+v", tool.Args)
	}
}

func TestResponseKind(t *testing.T) {
	tests := []struct {
		elem Element
		want bool
	}{
		{Think{}, true},
		{Assistant{}, true},
		{ToolUse{Tool: "runCmd"}, true},
		{Edits{}, true},
		{ErrorEvent{}, true},
		{Advance{}, false},
		{Complete{}, false},
		{Merge{}, false},
		{UserInputs{}, false},
		{UserCommand{}, false},
		{UserEdits{}, false},
		{ToolResult{}, false},
	}
	for _, tt := range tests {
		if got := ResponseKind(tt.elem); got != tt.want {
			t.Errorf("ResponseKind(%T) = %v, want %v", tt.elem, got, tt.want)
		}
	}
}
