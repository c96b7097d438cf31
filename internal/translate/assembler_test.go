package translate

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryman-dev/ferryman/pkg/types"
)

// decodeFrames splits rendered SSE payloads back into (event, data) pairs.
func decodeFrames(t *testing.T, frames [][]byte) []struct{ Event, Data string } {
	t.Helper()
	var out []struct{ Event, Data string }
	for _, f := range frames {
		var ev, data string
		for _, line := range strings.Split(strings.TrimSuffix(string(f), "\n\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if data != "" {
					data += "\n"
				}
				data += strings.TrimPrefix(line, "data: ")
			}
		}
		out = append(out, struct{ Event, Data string }{ev, data})
	}
	return out
}

func feedEvents(a Assembler, events ...Event) [][]byte {
	var frames [][]byte
	for _, ev := range events {
		frames = append(frames, a.Feed(ev)...)
	}
	return frames
}

func TestAnthropicAssemblerTextStream(t *testing.T) {
	a := NewAnthropicAssembler("claude-sonnet-4")
	frames := feedEvents(a,
		Event{Kind: KindStart, ID: "msg_1", Model: "claude-sonnet-4"},
		Event{Kind: KindTextDelta, Text: "Hel"},
		Event{Kind: KindTextDelta, Text: "lo"},
		Event{Kind: KindUsage, Usage: &types.Usage{OutputTokens: 2}},
		Event{Kind: KindFinish, Text: "end_turn"},
		Event{Kind: KindTerminal},
	)

	decoded := decodeFrames(t, frames)
	names := make([]string, len(decoded))
	for i, d := range decoded {
		names[i] = d.Event
	}
	assert.Equal(t, []string{
		"message_start", "content_block_start", "content_block_delta",
		"content_block_delta", "content_block_stop", "message_delta", "message_stop",
	}, names)

	var delta struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal([]byte(decoded[5].Data), &delta))
	assert.Equal(t, "end_turn", delta.Delta.StopReason)
	assert.EqualValues(t, 2, delta.Usage.OutputTokens)
}

func TestAnthropicAssemblerBlockTransitions(t *testing.T) {
	a := NewAnthropicAssembler("m")
	frames := feedEvents(a,
		Event{Kind: KindStart},
		Event{Kind: KindReasoningDelta, Text: "think"},
		Event{Kind: KindTextDelta, Text: "speak"},
		Event{Kind: KindToolCallDelta, ToolIndex: 0, ToolID: "t1", ToolName: "f", ToolArgs: `{"a":1}`},
		Event{Kind: KindTerminal},
	)

	decoded := decodeFrames(t, frames)
	var starts []string
	for _, d := range decoded {
		if d.Event != "content_block_start" {
			continue
		}
		var payload struct {
			ContentBlock struct {
				Type string `json:"type"`
			} `json:"content_block"`
		}
		require.NoError(t, json.Unmarshal([]byte(d.Data), &payload))
		starts = append(starts, payload.ContentBlock.Type)
	}
	assert.Equal(t, []string{"thinking", "text", "tool_use"}, starts)
}

func TestAnthropicAssemblerSynthesizesStart(t *testing.T) {
	a := NewAnthropicAssembler("m")
	frames := a.Feed(Event{Kind: KindTextDelta, Text: "x"})
	decoded := decodeFrames(t, frames)
	require.NotEmpty(t, decoded)
	assert.Equal(t, "message_start", decoded[0].Event)
}

func TestChatAssemblerStream(t *testing.T) {
	c := NewChatAssembler("m")
	frames := feedEvents(c,
		Event{Kind: KindStart, ID: "chatcmpl-9", Model: "m"},
		Event{Kind: KindTextDelta, Text: "hi"},
		Event{Kind: KindFinish, Text: "end_turn"},
		Event{Kind: KindUsage, Usage: &types.Usage{InputTokens: 1, OutputTokens: 2}},
		Event{Kind: KindTerminal},
	)

	decoded := decodeFrames(t, frames)
	require.Len(t, decoded, 4)

	var first struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Choices []struct {
			Delta struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal([]byte(decoded[0].Data), &first))
	assert.Equal(t, "chatcmpl-9", first.ID)
	assert.Equal(t, "chat.completion.chunk", first.Object)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, "hi", first.Choices[0].Delta.Content)

	assert.Contains(t, decoded[1].Data, `"finish_reason":"stop"`)
	assert.Contains(t, decoded[2].Data, `"completion_tokens":2`)
	assert.Equal(t, "[DONE]", decoded[3].Data)
}

func TestChatAssemblerFail(t *testing.T) {
	c := NewChatAssembler("m")
	decoded := decodeFrames(t, c.Fail("all tiers failed"))
	require.Len(t, decoded, 2)
	assert.Contains(t, decoded[0].Data, "all tiers failed")
	assert.Equal(t, "[DONE]", decoded[1].Data)
}

func TestResponsesAssemblerTextStream(t *testing.T) {
	r := NewResponsesAssembler("m")
	frames := feedEvents(r,
		Event{Kind: KindStart, ID: "resp_1", Model: "m"},
		Event{Kind: KindTextDelta, Text: "one "},
		Event{Kind: KindTextDelta, Text: "two"},
		Event{Kind: KindUsage, Usage: &types.Usage{InputTokens: 4, OutputTokens: 6}},
		Event{Kind: KindTerminal},
	)

	decoded := decodeFrames(t, frames)
	names := make([]string, len(decoded))
	for i, d := range decoded {
		names[i] = d.Event
	}
	assert.Equal(t, []string{
		"response.created", "response.output_item.added",
		"response.output_text.delta", "response.output_text.delta",
		"response.output_item.done", "response.completed",
	}, names)

	var completed struct {
		Response struct {
			Status string `json:"status"`
			Output []struct {
				Type    string `json:"type"`
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"output"`
			Usage struct {
				TotalTokens int64 `json:"total_tokens"`
			} `json:"usage"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(decoded[5].Data), &completed))
	assert.Equal(t, "completed", completed.Response.Status)
	require.Len(t, completed.Response.Output, 1)
	assert.Equal(t, "one two", completed.Response.Output[0].Content[0].Text)
	assert.EqualValues(t, 10, completed.Response.Usage.TotalTokens)
}

func TestResponsesAssemblerInterleavedToolCalls(t *testing.T) {
	// Arguments for two tool indices arrive interleaved; each index gets
	// exactly one output_item.added and its done item carries the fully
	// merged arguments.
	r := NewResponsesAssembler("m")
	frames := feedEvents(r,
		Event{Kind: KindStart, ID: "resp_2"},
		Event{Kind: KindToolCallDelta, ToolIndex: 0, ToolID: "call_a", ToolName: "fa", ToolArgs: `{"a":`},
		Event{Kind: KindToolCallDelta, ToolIndex: 1, ToolID: "call_b", ToolName: "fb", ToolArgs: `{"b":`},
		Event{Kind: KindToolCallDelta, ToolIndex: 0, ToolArgs: `1}`},
		Event{Kind: KindToolCallDelta, ToolIndex: 1, ToolArgs: `2}`},
		Event{Kind: KindTerminal},
	)

	decoded := decodeFrames(t, frames)
	added := 0
	var doneArgs []string
	for _, d := range decoded {
		switch d.Event {
		case "response.output_item.added":
			added++
		case "response.output_item.done":
			var payload struct {
				Item struct {
					Arguments string `json:"arguments"`
				} `json:"item"`
			}
			require.NoError(t, json.Unmarshal([]byte(d.Data), &payload))
			doneArgs = append(doneArgs, payload.Item.Arguments)
		}
	}
	assert.Equal(t, 2, added)
	require.Len(t, doneArgs, 2)
	assert.JSONEq(t, `{"a":1}`, doneArgs[0])
	assert.JSONEq(t, `{"b":2}`, doneArgs[1])
}

func TestResponsesAssemblerFailIsSingleEvent(t *testing.T) {
	r := NewResponsesAssembler("m")
	frames := r.Fail("tier exhaustion: last error 502")
	decoded := decodeFrames(t, frames)
	require.Len(t, decoded, 1)
	assert.Equal(t, "response.failed", decoded[0].Event)
	assert.Contains(t, decoded[0].Data, "tier exhaustion: last error 502")

	var payload struct {
		Response struct {
			Status string `json:"status"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(decoded[0].Data), &payload))
	assert.Equal(t, "failed", payload.Response.Status)
}
