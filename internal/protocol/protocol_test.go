package protocol

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryman-dev/ferryman/internal/sse"
	"github.com/ferryman-dev/ferryman/internal/translate"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

func TestForDialect(t *testing.T) {
	for _, d := range []string{DialectAnthropic, DialectOpenAIChat, DialectOpenAIResponses} {
		a, err := ForDialect(d)
		require.NoError(t, err)
		assert.Equal(t, d, a.Dialect())
	}
	_, err := ForDialect("soap")
	assert.Error(t, err)
}

func TestHeaders(t *testing.T) {
	h := http.Header{}
	anthropicAdapter{}.DecorateHeaders(h, "sk-ant")
	assert.Equal(t, "sk-ant", h.Get("x-api-key"))
	assert.NotEmpty(t, h.Get("anthropic-version"))

	h = http.Header{}
	chatAdapter{}.DecorateHeaders(h, "sk-oai")
	assert.Equal(t, "Bearer sk-oai", h.Get("Authorization"))
}

func parseOne(t *testing.T, a Adapter, frame sse.Frame) translate.Event {
	t.Helper()
	events, err := a.ParseStreamEvent(frame)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func TestAnthropicStreamEvents(t *testing.T) {
	a := anthropicAdapter{}

	ev := parseOne(t, a, sse.Frame{
		Event: "message_start",
		Data:  `{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":12,"output_tokens":0}}}`,
	})
	assert.Equal(t, translate.KindStart, ev.Kind)
	assert.Equal(t, "msg_1", ev.ID)
	require.NotNil(t, ev.Usage)
	assert.EqualValues(t, 12, ev.Usage.InputTokens)

	ev = parseOne(t, a, sse.Frame{
		Event: "content_block_delta",
		Data:  `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
	})
	assert.Equal(t, translate.KindTextDelta, ev.Kind)
	assert.Equal(t, "hi", ev.Text)

	ev = parseOne(t, a, sse.Frame{
		Event: "content_block_delta",
		Data:  `{"type":"content_block_delta","index":1,"delta":{"type":"thinking_delta","thinking":"hm"}}`,
	})
	assert.Equal(t, translate.KindReasoningDelta, ev.Kind)

	ev = parseOne(t, a, sse.Frame{
		Event: "content_block_start",
		Data:  `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"f"}}`,
	})
	assert.Equal(t, translate.KindToolCallDelta, ev.Kind)
	assert.Equal(t, 1, ev.ToolIndex)
	assert.Equal(t, "toolu_1", ev.ToolID)
	assert.Equal(t, "f", ev.ToolName)

	ev = parseOne(t, a, sse.Frame{
		Event: "content_block_delta",
		Data:  `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":"}}`,
	})
	assert.Equal(t, translate.KindToolCallDelta, ev.Kind)
	assert.Equal(t, `{"x":`, ev.ToolArgs)

	events, err := a.ParseStreamEvent(sse.Frame{
		Event: "message_delta",
		Data:  `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":0,"output_tokens":40}}`,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, translate.KindUsage, events[0].Kind)
	assert.EqualValues(t, 40, events[0].Usage.OutputTokens)
	assert.Equal(t, translate.KindFinish, events[1].Kind)
	assert.Equal(t, "end_turn", events[1].Text)

	ev = parseOne(t, a, sse.Frame{Event: "message_stop", Data: `{"type":"message_stop"}`})
	assert.Equal(t, translate.KindTerminal, ev.Kind)

	ev = parseOne(t, a, sse.Frame{Event: "ping", Data: `{"type":"ping"}`})
	assert.Equal(t, translate.KindIgnore, ev.Kind)
}

func TestAnthropicEventNameFallback(t *testing.T) {
	// When the data payload carries no type, the event name decides.
	ev := parseOne(t, anthropicAdapter{}, sse.Frame{Event: "message_stop", Data: `{}`})
	assert.Equal(t, translate.KindTerminal, ev.Kind)
}

func TestChatStreamEvents(t *testing.T) {
	a := chatAdapter{}

	events, err := a.ParseStreamEvent(sse.Frame{
		Data: `{"id":"chatcmpl-1","model":"m","choices":[{"delta":{"role":"assistant","content":"he"},"finish_reason":null}]}`,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, translate.KindStart, events[0].Kind)
	assert.Equal(t, "chatcmpl-1", events[0].ID)
	assert.Equal(t, translate.KindTextDelta, events[1].Kind)
	assert.Equal(t, "he", events[1].Text)

	ev := parseOne(t, a, sse.Frame{
		Data: `{"choices":[{"delta":{"reasoning_content":"deep"},"finish_reason":null}]}`,
	})
	assert.Equal(t, translate.KindReasoningDelta, ev.Kind)

	ev = parseOne(t, a, sse.Frame{
		Data: `{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_1","function":{"name":"f","arguments":"{"}}]},"finish_reason":null}]}`,
	})
	assert.Equal(t, translate.KindToolCallDelta, ev.Kind)
	assert.Equal(t, 1, ev.ToolIndex)
	assert.Equal(t, "call_1", ev.ToolID)
	assert.Equal(t, "{", ev.ToolArgs)

	ev = parseOne(t, a, sse.Frame{
		Data: `{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	assert.Equal(t, translate.KindFinish, ev.Kind)
	assert.Equal(t, "tool_use", ev.Text)

	// Pre-terminal usage chunk: empty choices, non-empty usage.
	ev = parseOne(t, a, sse.Frame{
		Data: `{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3}}`,
	})
	assert.Equal(t, translate.KindUsage, ev.Kind)
	assert.EqualValues(t, 7, ev.Usage.InputTokens)

	ev = parseOne(t, a, sse.Frame{Data: sse.Done, Terminal: true})
	assert.Equal(t, translate.KindTerminal, ev.Kind)
}

func TestChatStreamMalformedFrame(t *testing.T) {
	_, err := chatAdapter{}.ParseStreamEvent(sse.Frame{Data: `{broken`})
	assert.Error(t, err)
}

func TestResponsesStreamEvents(t *testing.T) {
	a := responsesAdapter{}

	ev := parseOne(t, a, sse.Frame{
		Event: "response.created",
		Data:  `{"type":"response.created","response":{"id":"resp_1","model":"m","status":"in_progress"}}`,
	})
	assert.Equal(t, translate.KindStart, ev.Kind)
	assert.Equal(t, "resp_1", ev.ID)

	ev = parseOne(t, a, sse.Frame{
		Event: "response.output_text.delta",
		Data:  `{"type":"response.output_text.delta","output_index":0,"delta":"chunk"}`,
	})
	assert.Equal(t, translate.KindTextDelta, ev.Kind)
	assert.Equal(t, "chunk", ev.Text)

	ev = parseOne(t, a, sse.Frame{
		Event: "response.output_item.added",
		Data:  `{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","call_id":"call_1","name":"f"}}`,
	})
	assert.Equal(t, translate.KindToolCallDelta, ev.Kind)
	assert.Equal(t, 1, ev.ToolIndex)
	assert.Equal(t, "f", ev.ToolName)

	ev = parseOne(t, a, sse.Frame{
		Event: "response.function_call_arguments.delta",
		Data:  `{"type":"response.function_call_arguments.delta","output_index":1,"delta":"{\"a\":1}"}`,
	})
	assert.Equal(t, translate.KindToolCallDelta, ev.Kind)
	assert.Equal(t, `{"a":1}`, ev.ToolArgs)

	events, err := a.ParseStreamEvent(sse.Frame{
		Event: "response.completed",
		Data:  `{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":5,"output_tokens":6}}}`,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, translate.KindUsage, events[0].Kind)
	assert.Equal(t, translate.KindTerminal, events[1].Kind)

	ev = parseOne(t, a, sse.Frame{
		Event: "response.failed",
		Data:  `{"type":"response.failed","response":{"status":"failed","error":{"message":"quota"}}}`,
	})
	assert.Equal(t, translate.KindFailed, ev.Kind)
	assert.Equal(t, "quota", ev.Text)
}

func TestMarshalRequestPerDialect(t *testing.T) {
	req := &types.Request{
		Model:  "m",
		System: json.RawMessage(`"sys"`),
		Messages: []types.Message{
			{Role: "user", Content: json.RawMessage(`"q"`)},
		},
	}

	body, err := anthropicAdapter{}.MarshalRequest(req)
	require.NoError(t, err)
	var anth map[string]any
	require.NoError(t, json.Unmarshal(body, &anth))
	assert.Equal(t, "sys", anth["system"])
	assert.NotNil(t, anth["max_tokens"])

	body, err = chatAdapter{}.MarshalRequest(req)
	require.NoError(t, err)
	var chat map[string]any
	require.NoError(t, json.Unmarshal(body, &chat))
	msgs := chat["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	body, err = responsesAdapter{}.MarshalRequest(req)
	require.NoError(t, err)
	var rr map[string]any
	require.NoError(t, json.Unmarshal(body, &rr))
	assert.Equal(t, "sys", rr["instructions"])
	assert.Len(t, rr["input"].([]any), 1)
}
