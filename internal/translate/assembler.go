package translate

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ferryman-dev/ferryman/pkg/types"
)

// Assembler renders dialect-agnostic Events into client wire frames. Feed
// returns zero or more complete SSE payloads ready to write; Fail produces
// the dialect's terminal failure frames and is valid both before the first
// event and mid-stream.
type Assembler interface {
	Feed(ev Event) [][]byte
	Fail(message string) [][]byte
}

func sseEvent(name string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(name)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, name...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}

func sseData(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(data)+10)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}

var sseDone = []byte("data: [DONE]\n\n")

func newStreamID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// ---- Anthropic ----

// AnthropicAssembler renders Events as Anthropic Messages SSE: message_start,
// content_block_start/delta/stop per block, message_delta, message_stop.
type AnthropicAssembler struct {
	model string

	started    bool
	blockOpen  bool
	blockType  string
	blockIndex int
	toolIndex  int // upstream tool index of the open tool_use block

	usage      types.Usage
	stopReason string
}

// NewAnthropicAssembler builds an assembler; model labels synthesized
// message_start frames when the upstream never sent one.
func NewAnthropicAssembler(model string) *AnthropicAssembler {
	return &AnthropicAssembler{model: model, toolIndex: -1}
}

func (a *AnthropicAssembler) start(id, model string, usage *types.Usage) []byte {
	a.started = true
	if model == "" {
		model = a.model
	}
	if id == "" {
		id = newStreamID("msg")
	}
	u := map[string]int64{"input_tokens": 0, "output_tokens": 0}
	if usage != nil {
		u["input_tokens"] = usage.InputTokens
		a.usage.InputTokens = usage.InputTokens
	}
	return sseEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      id,
			"type":    "message",
			"role":    "assistant",
			"model":   model,
			"content": []any{},
			"usage":   u,
		},
	})
}

func (a *AnthropicAssembler) closeBlock() []byte {
	if !a.blockOpen {
		return nil
	}
	a.blockOpen = false
	idx := a.blockIndex
	a.blockIndex++
	a.toolIndex = -1
	return sseEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	})
}

func (a *AnthropicAssembler) openBlock(block map[string]any) []byte {
	a.blockOpen = true
	return sseEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         a.blockIndex,
		"content_block": block,
	})
}

// Feed implements Assembler.
func (a *AnthropicAssembler) Feed(ev Event) [][]byte {
	var out [][]byte
	ensureStarted := func() {
		if !a.started {
			out = append(out, a.start("", "", nil))
		}
	}

	switch ev.Kind {
	case KindStart:
		if !a.started {
			out = append(out, a.start(ev.ID, ev.Model, ev.Usage))
		}

	case KindTextDelta:
		ensureStarted()
		if !a.blockOpen || a.blockType != "text" {
			if f := a.closeBlock(); f != nil {
				out = append(out, f)
			}
			a.blockType = "text"
			out = append(out, a.openBlock(map[string]any{"type": "text", "text": ""}))
		}
		out = append(out, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": a.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		}))

	case KindReasoningDelta:
		ensureStarted()
		if !a.blockOpen || a.blockType != "thinking" {
			if f := a.closeBlock(); f != nil {
				out = append(out, f)
			}
			a.blockType = "thinking"
			out = append(out, a.openBlock(map[string]any{"type": "thinking", "thinking": ""}))
		}
		out = append(out, sseEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": a.blockIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.Text},
		}))

	case KindToolCallDelta:
		ensureStarted()
		if !a.blockOpen || a.blockType != "tool_use" || a.toolIndex != ev.ToolIndex {
			if f := a.closeBlock(); f != nil {
				out = append(out, f)
			}
			a.blockType = "tool_use"
			a.toolIndex = ev.ToolIndex
			id := ev.ToolID
			if id == "" {
				id = newStreamID("toolu")
			}
			out = append(out, a.openBlock(map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  ev.ToolName,
				"input": map[string]any{},
			}))
		}
		if ev.ToolArgs != "" {
			out = append(out, sseEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": a.blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ToolArgs},
			}))
		}

	case KindUsage:
		if ev.Usage != nil {
			a.usage.Merge(*ev.Usage)
		}

	case KindFinish:
		a.stopReason = ev.Text

	case KindTerminal:
		ensureStarted()
		if f := a.closeBlock(); f != nil {
			out = append(out, f)
		}
		stop := a.stopReason
		if stop == "" {
			stop = "end_turn"
		}
		out = append(out, sseEvent("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stop, "stop_sequence": nil},
			"usage": map[string]int64{"output_tokens": a.usage.OutputTokens},
		}))
		out = append(out, sseEvent("message_stop", map[string]any{"type": "message_stop"}))

	case KindFailed:
		out = append(out, a.Fail(ev.Text)...)
	}
	return out
}

// Fail implements Assembler with the Anthropic error event.
func (a *AnthropicAssembler) Fail(message string) [][]byte {
	return [][]byte{sseEvent("error", map[string]any{
		"type":  "error",
		"error": map[string]string{"type": "api_error", "message": message},
	})}
}

// ---- OpenAI Chat ----

// ChatAssembler renders Events as chat.completion.chunk frames terminated by
// data: [DONE].
type ChatAssembler struct {
	id      string
	model   string
	created int64

	sentRole bool
	usage    *types.Usage
}

// NewChatAssembler builds an assembler; model labels chunks when the
// upstream never identified itself.
func NewChatAssembler(model string) *ChatAssembler {
	return &ChatAssembler{
		id:      newStreamID("chatcmpl"),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (c *ChatAssembler) chunk(delta map[string]any, finish any) []byte {
	return sseData(map[string]any{
		"id":      c.id,
		"object":  "chat.completion.chunk",
		"created": c.created,
		"model":   c.model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	})
}

func (c *ChatAssembler) mergeUsage(u types.Usage) {
	if c.usage == nil {
		c.usage = &types.Usage{}
	}
	c.usage.Merge(u)
}

func (c *ChatAssembler) delta(extra map[string]any) map[string]any {
	if !c.sentRole {
		c.sentRole = true
		extra["role"] = "assistant"
	}
	return extra
}

// Feed implements Assembler.
func (c *ChatAssembler) Feed(ev Event) [][]byte {
	switch ev.Kind {
	case KindStart:
		if ev.ID != "" {
			c.id = ev.ID
		}
		if ev.Model != "" {
			c.model = ev.Model
		}
		if ev.Usage != nil {
			c.mergeUsage(*ev.Usage)
		}
		return nil

	case KindTextDelta:
		return [][]byte{c.chunk(c.delta(map[string]any{"content": ev.Text}), nil)}

	case KindReasoningDelta:
		return [][]byte{c.chunk(c.delta(map[string]any{"reasoning_content": ev.Text}), nil)}

	case KindToolCallDelta:
		call := map[string]any{
			"index":    ev.ToolIndex,
			"function": map[string]any{"arguments": ev.ToolArgs},
		}
		if ev.ToolID != "" {
			call["id"] = ev.ToolID
			call["type"] = "function"
		}
		if ev.ToolName != "" {
			call["function"] = map[string]any{"name": ev.ToolName, "arguments": ev.ToolArgs}
		}
		return [][]byte{c.chunk(c.delta(map[string]any{"tool_calls": []map[string]any{call}}), nil)}

	case KindUsage:
		if ev.Usage != nil {
			c.mergeUsage(*ev.Usage)
		}
		return nil

	case KindFinish:
		return [][]byte{c.chunk(map[string]any{}, StopReasonToOpenAI(ev.Text))}

	case KindTerminal:
		var out [][]byte
		if c.usage != nil {
			out = append(out, sseData(map[string]any{
				"id":      c.id,
				"object":  "chat.completion.chunk",
				"created": c.created,
				"model":   c.model,
				"choices": []any{},
				"usage":   usageToChat(c.usage),
			}))
		}
		return append(out, sseDone)

	case KindFailed:
		return c.Fail(ev.Text)
	}
	return nil
}

// Fail emits an error-shaped chunk followed by the [DONE] marker.
func (c *ChatAssembler) Fail(message string) [][]byte {
	return [][]byte{
		sseData(map[string]any{
			"error": map[string]string{"message": message, "type": "upstream_error"},
		}),
		sseDone,
	}
}

// ---- OpenAI Responses ----

// toolAccum tracks one in-flight tool call on the Responses surface.
type toolAccum struct {
	id          string
	name        string
	arguments   string
	outputIndex int
}

// ResponsesAssembler renders Events as Responses SSE: response.created once,
// output_item.added lazily per item, text/reasoning deltas, then
// output_item.done per item and response.completed with the final output
// list and usage.
type ResponsesAssembler struct {
	id      string
	model   string
	created int64

	started   bool
	nextIndex int
	msgIndex  int // output index of the message item, -1 until added
	text      string
	reasoning string
	tools     map[int]*toolAccum
	toolOrder []int
	usage     *types.Usage
}

// NewResponsesAssembler builds an assembler for one stream.
func NewResponsesAssembler(model string) *ResponsesAssembler {
	return &ResponsesAssembler{
		id:       newStreamID("resp"),
		model:    model,
		created:  time.Now().Unix(),
		msgIndex: -1,
		tools:    make(map[int]*toolAccum),
	}
}

func (r *ResponsesAssembler) responseObject(status string, output []map[string]any) map[string]any {
	obj := map[string]any{
		"id":         r.id,
		"object":     "response",
		"created_at": r.created,
		"status":     status,
		"model":      r.model,
		"output":     output,
	}
	if r.usage != nil {
		obj["usage"] = map[string]int64{
			"input_tokens":  r.usage.InputTokens,
			"output_tokens": r.usage.OutputTokens,
			"total_tokens":  r.usage.InputTokens + r.usage.OutputTokens,
		}
	}
	return obj
}

func (r *ResponsesAssembler) ensureStarted(out [][]byte) [][]byte {
	if r.started {
		return out
	}
	r.started = true
	return append(out, sseEvent("response.created", map[string]any{
		"type":     "response.created",
		"response": r.responseObject("in_progress", []map[string]any{}),
	}))
}

func (r *ResponsesAssembler) messageItem(status string) map[string]any {
	return map[string]any{
		"type":   "message",
		"role":   "assistant",
		"status": status,
		"content": []map[string]any{{
			"type": "output_text",
			"text": r.text,
		}},
	}
}

func (r *ResponsesAssembler) functionCallItem(t *toolAccum, status string) map[string]any {
	return map[string]any{
		"type":      "function_call",
		"status":    status,
		"call_id":   t.id,
		"name":      t.name,
		"arguments": t.arguments,
	}
}

// Feed implements Assembler.
func (r *ResponsesAssembler) Feed(ev Event) [][]byte {
	var out [][]byte

	switch ev.Kind {
	case KindStart:
		if ev.ID != "" {
			r.id = ev.ID
		}
		if ev.Model != "" {
			r.model = ev.Model
		}
		if ev.Usage != nil {
			if r.usage == nil {
				r.usage = &types.Usage{}
			}
			r.usage.Merge(*ev.Usage)
		}
		out = r.ensureStarted(out)

	case KindTextDelta:
		out = r.ensureStarted(out)
		if r.msgIndex < 0 {
			r.msgIndex = r.nextIndex
			r.nextIndex++
			item := map[string]any{
				"type": "message", "role": "assistant", "status": "in_progress",
				"content": []any{},
			}
			out = append(out, sseEvent("response.output_item.added", map[string]any{
				"type":         "response.output_item.added",
				"output_index": r.msgIndex,
				"item":         item,
			}))
		}
		r.text += ev.Text
		out = append(out, sseEvent("response.output_text.delta", map[string]any{
			"type":          "response.output_text.delta",
			"output_index":  r.msgIndex,
			"content_index": 0,
			"delta":         ev.Text,
		}))

	case KindReasoningDelta:
		out = r.ensureStarted(out)
		r.reasoning += ev.Text
		out = append(out, sseEvent("response.reasoning_text.delta", map[string]any{
			"type":  "response.reasoning_text.delta",
			"delta": ev.Text,
		}))

	case KindToolCallDelta:
		out = r.ensureStarted(out)
		t, ok := r.tools[ev.ToolIndex]
		if !ok {
			id := ev.ToolID
			if id == "" {
				id = newStreamID("call")
			}
			t = &toolAccum{id: id, name: ev.ToolName, outputIndex: r.nextIndex}
			r.nextIndex++
			r.tools[ev.ToolIndex] = t
			r.toolOrder = append(r.toolOrder, ev.ToolIndex)
			out = append(out, sseEvent("response.output_item.added", map[string]any{
				"type":         "response.output_item.added",
				"output_index": t.outputIndex,
				"item":         r.functionCallItem(t, "in_progress"),
			}))
		}
		if t.name == "" && ev.ToolName != "" {
			t.name = ev.ToolName
		}
		if ev.ToolArgs != "" {
			t.arguments += ev.ToolArgs
			out = append(out, sseEvent("response.function_call_arguments.delta", map[string]any{
				"type":         "response.function_call_arguments.delta",
				"output_index": t.outputIndex,
				"delta":        ev.ToolArgs,
			}))
		}

	case KindUsage:
		if ev.Usage != nil {
			if r.usage == nil {
				r.usage = &types.Usage{}
			}
			r.usage.Merge(*ev.Usage)
		}

	case KindFinish:
		// Responses streams carry no distinct finish frame; status lands on
		// response.completed.

	case KindTerminal:
		out = r.ensureStarted(out)
		output := make([]map[string]any, r.nextIndex)
		if r.msgIndex >= 0 {
			done := r.messageItem("completed")
			output[r.msgIndex] = done
			out = append(out, sseEvent("response.output_item.done", map[string]any{
				"type":         "response.output_item.done",
				"output_index": r.msgIndex,
				"item":         done,
			}))
		}
		for _, idx := range r.toolOrder {
			t := r.tools[idx]
			done := r.functionCallItem(t, "completed")
			output[t.outputIndex] = done
			out = append(out, sseEvent("response.output_item.done", map[string]any{
				"type":         "response.output_item.done",
				"output_index": t.outputIndex,
				"item":         done,
			}))
		}
		out = append(out, sseEvent("response.completed", map[string]any{
			"type":     "response.completed",
			"response": r.responseObject("completed", output),
		}))

	case KindFailed:
		out = append(out, r.Fail(ev.Text)...)
	}
	return out
}

// Fail emits the single response.failed event.
func (r *ResponsesAssembler) Fail(message string) [][]byte {
	r.started = true
	obj := r.responseObject("failed", []map[string]any{})
	obj["error"] = map[string]string{"message": message}
	return [][]byte{sseEvent("response.failed", map[string]any{
		"type":     "response.failed",
		"response": obj,
	})}
}
