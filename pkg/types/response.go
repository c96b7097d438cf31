package types

import (
	"github.com/goccy/go-json"
)

// ContentBlock is one block of a canonical (Anthropic-shaped) response.
// Exactly one of the type-specific field groups is populated, selected by
// Type: "text", "thinking", or "tool_use".
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ThinkingBlock builds a reasoning content block.
func ThinkingBlock(thinking string) ContentBlock {
	return ContentBlock{Type: "thinking", Thinking: thinking}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// Usage is the token accounting attached to responses and to terminal stream
// events. Cache fields follow the Anthropic wire names.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
}

// Merge overwrites u's fields with other's non-zero values. Stream dialects
// report usage piecemeal (input tokens at start, output tokens at the end);
// merging keeps the freshest value per field without losing the rest.
func (u *Usage) Merge(other Usage) {
	if other.InputTokens != 0 {
		u.InputTokens = other.InputTokens
	}
	if other.OutputTokens != 0 {
		u.OutputTokens = other.OutputTokens
	}
	if other.CacheReadInputTokens != 0 {
		u.CacheReadInputTokens = other.CacheReadInputTokens
	}
	if other.CacheCreationInputTokens != 0 {
		u.CacheCreationInputTokens = other.CacheCreationInputTokens
	}
}

// Response is the canonical non-streaming response shape.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// Text concatenates all text blocks of the response.
func (r *Response) Text() string {
	out := ""
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
