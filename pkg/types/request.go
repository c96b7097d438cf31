// Package types defines the canonical request/response shapes shared by the
// proxy's frontends, translators, and the cascade executor. The canonical
// request is Anthropic-shaped: every inbound dialect is parsed into it, and
// every upstream dialect is serialized from it.
package types

import (
	"github.com/goccy/go-json"
)

// Message is a single conversation turn. Content is kept as raw JSON because
// both dialects allow either a plain string or a list of content blocks.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// TextContent returns the message content as plain text, flattening block
// lists by concatenating their text fields.
func (m *Message) TextContent() string {
	return FlattenContent(m.Content)
}

// FlattenContent reduces a string-or-block-list content value to plain text.
func FlattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	out := ""
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// Request is the canonical internal request passed from the frontend router
// to the cascade executor. Model carries the tier route ("provider,model")
// until the executor resolves it to the upstream model id.
type Request struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	System      json.RawMessage   `json:"system,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage   `json:"tool_choice,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`

	// Reasoning carries an opaque reasoning-continuation token some
	// providers hand back mid-conversation.
	Reasoning string `json:"reasoning,omitempty"`
}

// SystemText returns the system prompt flattened to plain text.
func (r *Request) SystemText() string {
	return FlattenContent(r.System)
}

// Clone returns a shallow copy with its own message slice, so the executor
// can overwrite Model per tier without mutating the caller's request.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Messages = make([]Message, len(r.Messages))
	copy(cp.Messages, r.Messages)
	return &cp
}
