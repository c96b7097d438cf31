package translate

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/pkg/types"
)

// chatUsage is the OpenAI usage shape.
type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	PromptTokensDetails *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

func (u *chatUsage) canonical() *types.Usage {
	out := &types.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CacheReadInputTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

// usageToChat renders canonical usage in OpenAI form.
func usageToChat(u *types.Usage) *chatUsage {
	if u == nil {
		return nil
	}
	return &chatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

// CanonicalFromChatResponse parses a complete OpenAI Chat response into the
// canonical shape: content becomes a text block, reasoning_content a
// thinking block, tool_calls become tool_use blocks.
func CanonicalFromChatResponse(body []byte) (*types.Response, error) {
	var in struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content          string         `json:"content"`
				ReasoningContent string         `json:"reasoning_content"`
				ToolCalls        []ChatToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *chatUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if len(in.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}
	choice := in.Choices[0]

	out := &types.Response{
		ID:         in.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      in.Model,
		StopReason: StopReasonFromOpenAI(choice.FinishReason),
	}
	if choice.Message.ReasoningContent != "" {
		out.Content = append(out.Content, types.ThinkingBlock(choice.Message.ReasoningContent))
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, types.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		out.Content = append(out.Content, types.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	if in.Usage != nil {
		out.Usage = in.Usage.canonical()
	}
	return out, nil
}

// CanonicalFromAnthropicResponse parses a complete Anthropic response.
func CanonicalFromAnthropicResponse(body []byte) (*types.Response, error) {
	var resp types.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse messages response: %w", err)
	}
	return &resp, nil
}

// CanonicalFromResponsesResponse parses a complete OpenAI Responses object.
func CanonicalFromResponsesResponse(body []byte) (*types.Response, error) {
	var in struct {
		ID     string `json:"id"`
		Model  string `json:"model"`
		Status string `json:"status"`
		Output []struct {
			Type      string `json:"type"`
			CallID    string `json:"call_id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
			Content   []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
		Usage *struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse responses response: %w", err)
	}

	out := &types.Response{
		ID:         in.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      in.Model,
		StopReason: "end_turn",
	}
	for _, item := range in.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Text != "" {
					out.Content = append(out.Content, types.TextBlock(part.Text))
				}
			}
		case "reasoning":
			for _, part := range item.Content {
				if part.Text != "" {
					out.Content = append(out.Content, types.ThinkingBlock(part.Text))
				}
			}
		case "function_call":
			input := json.RawMessage(item.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			out.Content = append(out.Content, types.ToolUseBlock(item.CallID, item.Name, input))
			out.StopReason = "tool_use"
		}
	}
	if in.Usage != nil {
		out.Usage = &types.Usage{
			InputTokens:  in.Usage.InputTokens,
			OutputTokens: in.Usage.OutputTokens,
		}
	}
	return out, nil
}

// RenderAnthropic serializes the canonical response for an Anthropic client.
func RenderAnthropic(resp *types.Response) ([]byte, error) {
	cp := *resp
	if cp.Type == "" {
		cp.Type = "message"
	}
	if cp.Role == "" {
		cp.Role = "assistant"
	}
	return json.Marshal(&cp)
}

// RenderChat serializes the canonical response as an OpenAI chat.completion
// object.
func RenderChat(resp *types.Response) ([]byte, error) {
	msg := map[string]any{
		"role":    "assistant",
		"content": resp.Text(),
	}
	var toolCalls []ChatToolCall
	reasoning := ""
	for _, b := range resp.Content {
		switch b.Type {
		case "thinking":
			if reasoning != "" {
				reasoning += "\n"
			}
			reasoning += b.Thinking
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			toolCalls = append(toolCalls, ChatToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: ChatFunction{Name: b.Name, Arguments: args},
			})
		}
	}
	if reasoning != "" {
		msg["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}

	out := map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   resp.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       msg,
			"finish_reason": StopReasonToOpenAI(resp.StopReason),
		}},
	}
	if u := usageToChat(resp.Usage); u != nil {
		out["usage"] = u
	}
	return json.Marshal(out)
}

// RenderResponses serializes the canonical response as an OpenAI Responses
// object with the output item list.
func RenderResponses(resp *types.Response) ([]byte, error) {
	out := map[string]any{
		"id":         resp.ID,
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     "completed",
		"model":      resp.Model,
		"output":     responsesOutputItems(resp),
	}
	if resp.Usage != nil {
		out["usage"] = map[string]int64{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"total_tokens":  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return json.Marshal(out)
}

// responsesOutputItems converts canonical content blocks to Responses output
// items. Adjacent text blocks fold into one message item.
func responsesOutputItems(resp *types.Response) []map[string]any {
	items := make([]map[string]any, 0, len(resp.Content))
	text := ""
	flushText := func() {
		if text == "" {
			return
		}
		items = append(items, map[string]any{
			"type":   "message",
			"role":   "assistant",
			"status": "completed",
			"content": []map[string]any{{
				"type": "output_text",
				"text": text,
			}},
		})
		text = ""
	}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text += b.Text
		case "thinking":
			flushText()
			items = append(items, map[string]any{
				"type": "reasoning",
				"content": []map[string]any{{
					"type": "reasoning_text",
					"text": b.Thinking,
				}},
			})
		case "tool_use":
			flushText()
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			items = append(items, map[string]any{
				"type":      "function_call",
				"status":    "completed",
				"call_id":   b.ID,
				"name":      b.Name,
				"arguments": args,
			})
		}
	}
	flushText()
	return items
}
