package translate

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/pkg/types"
)

// ChatMessage is one OpenAI chat message.
type ChatMessage struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
}

// ChatToolCall is one entry of an assistant message's tool_calls list.
type ChatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

// ChatFunction carries the function name and stringified JSON arguments.
type ChatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool is an OpenAI tool definition.
type ChatTool struct {
	Type     string         `json:"type"`
	Function ChatToolSchema `json:"function"`
}

// ChatToolSchema is the function block of a tool definition.
type ChatToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the OpenAI Chat Completions request shape.
type ChatRequest struct {
	Model         string             `json:"model"`
	Messages      []ChatMessage      `json:"messages"`
	Tools         []ChatTool         `json:"tools,omitempty"`
	ToolChoice    json.RawMessage    `json:"tool_choice,omitempty"`
	MaxTokens     *int               `json:"max_tokens,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *ChatStreamOptions `json:"stream_options,omitempty"`
}

// ChatStreamOptions requests usage accounting on the final chunk.
type ChatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// anthropicTool is the Anthropic tool definition shape.
type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// anthropicBlock is one content block of an Anthropic message.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ChatFromCanonical translates the canonical request into the OpenAI Chat
// shape. The system prompt becomes a leading system message; tool_use blocks
// become tool_calls; tool_result blocks become role=tool messages.
func ChatFromCanonical(req *types.Request) (*ChatRequest, error) {
	out := &ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}

	if system := req.SystemText(); system != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: system})
	}

	for i := range req.Messages {
		msgs, err := chatMessagesFromAnthropic(&req.Messages[i])
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for i, raw := range req.Tools {
		var tool anthropicTool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("tool %d: %w", i, err)
		}
		params := tool.InputSchema
		if len(params) == 0 {
			// Already OpenAI-shaped tool definitions pass through.
			var fn struct {
				Function *ChatToolSchema `json:"function"`
			}
			if err := json.Unmarshal(raw, &fn); err == nil && fn.Function != nil {
				out.Tools = append(out.Tools, ChatTool{Type: "function", Function: *fn.Function})
				continue
			}
		}
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatToolSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	if choice := translateToolChoice(req.ToolChoice); choice != nil {
		out.ToolChoice = choice
	}
	return out, nil
}

// chatMessagesFromAnthropic expands one canonical message into one or more
// chat messages. A user message whose blocks are tool results becomes one
// role=tool message per result block.
func chatMessagesFromAnthropic(msg *types.Message) ([]ChatMessage, error) {
	if len(msg.Content) == 0 {
		return []ChatMessage{{Role: msg.Role}}, nil
	}

	var plain string
	if err := json.Unmarshal(msg.Content, &plain); err == nil {
		return []ChatMessage{{Role: msg.Role, Content: plain, ToolCallID: msg.ToolCallID}}, nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, fmt.Errorf("content is neither string nor block list: %w", err)
	}

	var out []ChatMessage
	var text string
	var toolCalls []ChatToolCall

	for _, b := range blocks {
		switch b.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += b.Text
		case "thinking":
			// Prior-turn reasoning is not replayed to OpenAI-shaped upstreams.
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			toolCalls = append(toolCalls, ChatToolCall{
				ID:   b.ID,
				Type: "function",
				Function: ChatFunction{
					Name:      b.Name,
					Arguments: args,
				},
			})
		case "tool_result":
			out = append(out, ChatMessage{
				Role:       "tool",
				Content:    types.FlattenContent(b.Content),
				ToolCallID: b.ToolUseID,
			})
		}
	}

	if text != "" || len(toolCalls) > 0 || len(out) == 0 {
		main := ChatMessage{Role: msg.Role, Content: text, ToolCalls: toolCalls}
		out = append([]ChatMessage{main}, out...)
	}
	return out, nil
}

// translateToolChoice maps the Anthropic tool_choice object to OpenAI form.
func translateToolChoice(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var choice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &choice); err != nil {
		// Already a bare string ("auto"/"required") or OpenAI object.
		return raw
	}
	switch choice.Type {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "tool":
		b, err := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		})
		if err != nil {
			return nil
		}
		return b
	default:
		return raw
	}
}

// CanonicalFromChatRequest parses an inbound OpenAI Chat request into the
// canonical shape. The system message (if any) is hoisted into System;
// role=tool messages become user messages holding a tool_result block.
func CanonicalFromChatRequest(body []byte) (*types.Request, error) {
	var in struct {
		Model       string          `json:"model"`
		Messages    []json.RawMessage `json:"messages"`
		Tools       []struct {
			Type     string         `json:"type"`
			Function ChatToolSchema `json:"function"`
		} `json:"tools"`
		ToolChoice  json.RawMessage `json:"tool_choice"`
		MaxTokens   *int            `json:"max_tokens"`
		Temperature *float64        `json:"temperature"`
		Stream      bool            `json:"stream"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse chat request: %w", err)
	}

	out := &types.Request{
		Model:       in.Model,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		Stream:      in.Stream,
	}

	for i, raw := range in.Messages {
		var m struct {
			Role       string          `json:"role"`
			Content    json.RawMessage `json:"content"`
			ToolCalls  []ChatToolCall  `json:"tool_calls"`
			ToolCallID string          `json:"tool_call_id"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		switch {
		case m.Role == "system":
			out.System = m.Content
		case m.Role == "tool":
			block, err := json.Marshal([]anthropicBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}})
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, types.Message{Role: "user", Content: block})
		case len(m.ToolCalls) > 0:
			blocks := make([]anthropicBlock, 0, len(m.ToolCalls)+1)
			if text := types.FlattenContent(m.Content); text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			content, err := json.Marshal(blocks)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, types.Message{Role: m.Role, Content: content})
		default:
			out.Messages = append(out.Messages, types.Message{Role: m.Role, Content: m.Content})
		}
	}

	for _, tool := range in.Tools {
		raw, err := json.Marshal(anthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
		if err != nil {
			return nil, err
		}
		out.Tools = append(out.Tools, raw)
	}
	out.ToolChoice = toolChoiceFromOpenAI(in.ToolChoice)
	return out, nil
}

// toolChoiceFromOpenAI maps the OpenAI tool_choice value to Anthropic form.
func toolChoiceFromOpenAI(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return json.RawMessage(`{"type":"auto"}`)
		case "required":
			return json.RawMessage(`{"type":"any"}`)
		case "none":
			return json.RawMessage(`{"type":"none"}`)
		default:
			return nil
		}
	}
	var obj struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		b, err := json.Marshal(map[string]string{"type": "tool", "name": obj.Function.Name})
		if err == nil {
			return b
		}
	}
	return raw
}

// CanonicalFromResponsesRequest parses an inbound OpenAI Responses request.
// `instructions` maps to System; `input` may be a bare string or a list of
// input items; `max_output_tokens` maps to MaxTokens.
func CanonicalFromResponsesRequest(body []byte) (*types.Request, error) {
	var in struct {
		Model           string          `json:"model"`
		Input           json.RawMessage `json:"input"`
		Instructions    string          `json:"instructions"`
		Tools           []struct {
			Type        string          `json:"type"`
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		} `json:"tools"`
		MaxOutputTokens *int     `json:"max_output_tokens"`
		Temperature     *float64 `json:"temperature"`
		Stream          *bool    `json:"stream"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse responses request: %w", err)
	}

	out := &types.Request{
		Model:       in.Model,
		MaxTokens:   in.MaxOutputTokens,
		Temperature: in.Temperature,
		// The Responses surface streams by default.
		Stream: in.Stream == nil || *in.Stream,
	}
	if in.Instructions != "" {
		sys, err := json.Marshal(in.Instructions)
		if err != nil {
			return nil, err
		}
		out.System = sys
	}

	if len(in.Input) > 0 {
		var plain string
		if err := json.Unmarshal(in.Input, &plain); err == nil {
			content, err := json.Marshal(plain)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, types.Message{Role: "user", Content: content})
		} else {
			var items []struct {
				Type    string          `json:"type"`
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
				CallID  string          `json:"call_id"`
				Output  json.RawMessage `json:"output"`
			}
			if err := json.Unmarshal(in.Input, &items); err != nil {
				return nil, fmt.Errorf("parse responses input: %w", err)
			}
			for _, item := range items {
				switch item.Type {
				case "function_call_output":
					block, err := json.Marshal([]anthropicBlock{{
						Type:      "tool_result",
						ToolUseID: item.CallID,
						Content:   item.Output,
					}})
					if err != nil {
						return nil, err
					}
					out.Messages = append(out.Messages, types.Message{Role: "user", Content: block})
				default:
					role := item.Role
					if role == "" {
						role = "user"
					}
					text, err := json.Marshal(responsesItemText(item.Content))
					if err != nil {
						return nil, err
					}
					out.Messages = append(out.Messages, types.Message{Role: role, Content: text})
				}
			}
		}
	}

	for _, tool := range in.Tools {
		raw, err := json.Marshal(anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
		if err != nil {
			return nil, err
		}
		out.Tools = append(out.Tools, raw)
	}
	return out, nil
}

// responsesItemText flattens a Responses input item content value, which may
// be a string or a list of typed parts (input_text / output_text).
func responsesItemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	out := ""
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// ResponsesRequest is the OpenAI Responses request shape.
type ResponsesRequest struct {
	Model           string           `json:"model"`
	Instructions    string           `json:"instructions,omitempty"`
	Input           []map[string]any `json:"input"`
	Tools           []map[string]any `json:"tools,omitempty"`
	MaxOutputTokens *int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
}

// ResponsesFromCanonical translates the canonical request into the OpenAI
// Responses shape: system becomes instructions, messages become input items,
// tool_use/tool_result blocks become function_call / function_call_output
// items, and tool definitions flatten (the Responses dialect has no
// function wrapper).
func ResponsesFromCanonical(req *types.Request) (*ResponsesRequest, error) {
	out := &ResponsesRequest{
		Model:           req.Model,
		Instructions:    req.SystemText(),
		Input:           []map[string]any{},
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		Stream:          req.Stream,
	}

	for i := range req.Messages {
		msg := &req.Messages[i]

		var plain string
		if err := json.Unmarshal(msg.Content, &plain); err == nil {
			out.Input = append(out.Input, responsesMessageItem(msg.Role, plain))
			continue
		}

		var blocks []anthropicBlock
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			return nil, fmt.Errorf("message %d: content is neither string nor block list: %w", i, err)
		}
		text := ""
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if text != "" {
					text += "\n"
				}
				text += b.Text
			case "tool_use":
				args := "{}"
				if len(b.Input) > 0 {
					args = string(b.Input)
				}
				out.Input = append(out.Input, map[string]any{
					"type":      "function_call",
					"call_id":   b.ID,
					"name":      b.Name,
					"arguments": args,
				})
			case "tool_result":
				out.Input = append(out.Input, map[string]any{
					"type":    "function_call_output",
					"call_id": b.ToolUseID,
					"output":  types.FlattenContent(b.Content),
				})
			}
		}
		if text != "" {
			out.Input = append(out.Input, responsesMessageItem(msg.Role, text))
		}
	}

	for i, raw := range req.Tools {
		var tool anthropicTool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("tool %d: %w", i, err)
		}
		entry := map[string]any{
			"type": "function",
			"name": tool.Name,
		}
		if tool.Description != "" {
			entry["description"] = tool.Description
		}
		if len(tool.InputSchema) > 0 {
			entry["parameters"] = tool.InputSchema
		}
		out.Tools = append(out.Tools, entry)
	}
	return out, nil
}

func responsesMessageItem(role, text string) map[string]any {
	partType := "input_text"
	if role == "assistant" {
		partType = "output_text"
	}
	return map[string]any{
		"type": "message",
		"role": role,
		"content": []map[string]any{{
			"type": partType,
			"text": text,
		}},
	}
}

// CanonicalFromAnthropicRequest parses an inbound Anthropic Messages
// request. The wire shape matches the canonical shape directly.
func CanonicalFromAnthropicRequest(body []byte) (*types.Request, error) {
	var req types.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse messages request: %w", err)
	}
	return &req, nil
}

// AnthropicBody serializes the canonical request for an Anthropic-dialect
// upstream. Anthropic requires max_tokens; a default is filled when the
// client omitted it.
func AnthropicBody(req *types.Request) ([]byte, error) {
	cp := *req
	if cp.MaxTokens == nil {
		def := 4096
		cp.MaxTokens = &def
	}
	cp.Reasoning = ""
	return json.Marshal(&cp)
}
