package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mockagent/mockagent/scenario"
	"github.com/mockagent/mockagent/toolmap"
)

// Provider selects the wire shape a coalesced response is rendered into.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// block is one ordered output unit accumulated while scanning parts.
type block struct {
	kind string // "thinking", "text", "tool"
	text string
	call toolmap.ToolCall
}

// Coalesced is the provider-neutral result of scanning one response group.
type Coalesced struct {
	blocks []block
}

// Coalesce folds an ordered response-part list into one logical response.
// Thinking is kept as separate blocks so the Anthropic rendering can emit
// it; the OpenAI rendering discards it. An error part short-circuits the
// whole group into a plain assistant error message.
func Coalesce(parts []scenario.Element, profiles *toolmap.Profiles, profile toolmap.Profile) Coalesced {
	var c Coalesced
	for _, part := range parts {
		switch e := part.(type) {
		case scenario.Think:
			for _, line := range e.Lines {
				c.blocks = append(c.blocks, block{kind: "thinking", text: line.Text})
			}
		case scenario.Assistant:
			for _, line := range e.Lines {
				c.blocks = append(c.blocks, block{kind: "text", text: line.Text})
			}
		case scenario.ToolUse:
			call := profiles.MapToolCall(profile, e.Tool, e.Args)
			c.blocks = append(c.blocks, block{kind: "tool", call: call})
		case scenario.Edits:
			call := profiles.MapToolCall(profile, "agentEdits", map[string]any{
				"path":         e.Path,
				"linesAdded":   e.LinesAdded,
				"linesRemoved": e.LinesRemoved,
			})
			c.blocks = append(c.blocks, block{kind: "tool", call: call})
		case scenario.ErrorEvent:
			msg := e.Message
			if msg == "" {
				msg = "upstream error"
			}
			return Coalesced{blocks: []block{{kind: "text", text: "Error: " + msg}}}
		default:
			// toolResult and control parts are informational here; real
			// results arrive in the next request's history.
		}
	}
	return c
}

// Text returns the accumulated assistant text.
func (c Coalesced) Text() string {
	var lines []string
	for _, b := range c.blocks {
		if b.kind == "text" {
			lines = append(lines, b.text)
		}
	}
	return strings.Join(lines, "\n")
}

// ToolCalls returns the resolved tool calls in encounter order.
func (c Coalesced) ToolCalls() []toolmap.ToolCall {
	var calls []toolmap.ToolCall
	for _, b := range c.blocks {
		if b.kind == "tool" {
			calls = append(calls, b.call)
		}
	}
	return calls
}

// ThinkingBlocks returns the thinking texts in encounter order.
func (c Coalesced) ThinkingBlocks() []string {
	var out []string
	for _, b := range c.blocks {
		if b.kind == "thinking" {
			out = append(out, b.text)
		}
	}
	return out
}

// BuildOpenAIResponse renders the coalesced group as a chat completion.
// Thinking never appears; tool_calls is present only when non-empty.
func BuildOpenAIResponse(model string, c Coalesced) ChatCompletionResponse {
	msg := ResponseMessage{
		Role:    "assistant",
		Content: c.Text(),
	}
	for _, call := range c.ToolCalls() {
		args, err := json.Marshal(call.Args)
		if err != nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
			ID:   call.ID,
			Type: "function",
			Function: OpenAIFunction{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}

	return ChatCompletionResponse{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: "stop",
		}},
	}
}

// BuildAnthropicResponse renders the coalesced group as a messages-API
// response: thinking blocks first in encounter order, then text, then one
// tool_use block per call with structured input.
func BuildAnthropicResponse(model string, c Coalesced) AnthropicResponse {
	var content []map[string]any
	for _, thinking := range c.ThinkingBlocks() {
		content = append(content, map[string]any{
			"type":     "thinking",
			"thinking": thinking,
		})
	}
	if text := c.Text(); text != "" {
		content = append(content, map[string]any{
			"type": "text",
			"text": text,
		})
	}
	for _, call := range c.ToolCalls() {
		input := call.Args
		if input == nil {
			input = map[string]any{}
		}
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    "toolu_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
			"name":  call.Name,
			"input": input,
		})
	}
	if content == nil {
		content = []map[string]any{}
	}

	return AnthropicResponse{
		ID:         "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: "end_turn",
	}
}
