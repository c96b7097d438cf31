package translate

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryman-dev/ferryman/pkg/types"
)

func TestCanonicalFromChatResponse(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "deepseek-chat",
		"choices": [{
			"message": {
				"content": "the answer",
				"reasoning_content": "let me think",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{\"x\":1}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30,
			"prompt_tokens_details": {"cached_tokens": 4}}
	}`)

	resp, err := CanonicalFromChatResponse(body)
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.Content, 3)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "let me think", resp.Content[0].Thinking)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "tool_use", resp.Content[2].Type)
	assert.JSONEq(t, `{"x":1}`, string(resp.Content[2].Input))

	require.NotNil(t, resp.Usage)
	assert.EqualValues(t, 10, resp.Usage.InputTokens)
	assert.EqualValues(t, 20, resp.Usage.OutputTokens)
	assert.EqualValues(t, 4, resp.Usage.CacheReadInputTokens)
}

func TestCanonicalFromChatResponseInvalidToolArguments(t *testing.T) {
	body := []byte(`{"id":"x","choices":[{"message":{"tool_calls":[
		{"id":"c","type":"function","function":{"name":"f","arguments":"{broken"}}]},"finish_reason":"tool_calls"}]}`)
	resp, err := CanonicalFromChatResponse(body)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.JSONEq(t, `{}`, string(resp.Content[0].Input))
}

func TestCanonicalFromResponsesResponse(t *testing.T) {
	body := []byte(`{
		"id": "resp_1",
		"model": "gpt-4o",
		"status": "completed",
		"output": [
			{"type": "reasoning", "content": [{"type": "reasoning_text", "text": "mull"}]},
			{"type": "message", "content": [{"type": "output_text", "text": "hello"}]},
			{"type": "function_call", "call_id": "call_2", "name": "g", "arguments": "{\"y\":2}"}
		],
		"usage": {"input_tokens": 5, "output_tokens": 7}
	}`)

	resp, err := CanonicalFromResponsesResponse(body)
	require.NoError(t, err)
	require.Len(t, resp.Content, 3)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "tool_use", resp.Content[2].Type)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.EqualValues(t, 5, resp.Usage.InputTokens)
}

func TestRenderChat(t *testing.T) {
	resp := &types.Response{
		ID:    "msg_1",
		Model: "claude-sonnet-4",
		Content: []types.ContentBlock{
			types.ThinkingBlock("pondering"),
			types.TextBlock("result"),
			types.ToolUseBlock("toolu_9", "f", json.RawMessage(`{"a":1}`)),
		},
		StopReason: "tool_use",
		Usage:      &types.Usage{InputTokens: 3, OutputTokens: 9},
	}

	body, err := RenderChat(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "chat.completion", m["object"])

	choices := m["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])

	msg := choice["message"].(map[string]any)
	assert.Equal(t, "result", msg["content"])
	assert.Equal(t, "pondering", msg["reasoning_content"])
	calls := msg["tool_calls"].([]any)
	require.Len(t, calls, 1)

	usage := m["usage"].(map[string]any)
	assert.EqualValues(t, 3, usage["prompt_tokens"])
	assert.EqualValues(t, 12, usage["total_tokens"])
}

func TestRenderResponses(t *testing.T) {
	resp := &types.Response{
		ID:    "msg_2",
		Model: "m",
		Content: []types.ContentBlock{
			types.TextBlock("part one "),
			types.TextBlock("part two"),
			types.ToolUseBlock("toolu_3", "g", json.RawMessage(`{"b":2}`)),
		},
		StopReason: "tool_use",
	}

	body, err := RenderResponses(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "response", m["object"])
	assert.Equal(t, "completed", m["status"])

	output := m["output"].([]any)
	require.Len(t, output, 2)

	msgItem := output[0].(map[string]any)
	assert.Equal(t, "message", msgItem["type"])
	content := msgItem["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "part one part two", content["text"])

	fnItem := output[1].(map[string]any)
	assert.Equal(t, "function_call", fnItem["type"])
	assert.Equal(t, "toolu_3", fnItem["call_id"])
	assert.JSONEq(t, `{"b":2}`, fnItem["arguments"].(string))
}

func TestRenderAnthropicFillsEnvelope(t *testing.T) {
	body, err := RenderAnthropic(&types.Response{ID: "msg_3", Content: []types.ContentBlock{types.TextBlock("x")}})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "message", m["type"])
	assert.Equal(t, "assistant", m["role"])
}
