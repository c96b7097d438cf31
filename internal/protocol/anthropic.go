package protocol

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/internal/sse"
	"github.com/ferryman-dev/ferryman/internal/translate"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

const anthropicVersion = "2023-06-01"

type anthropicAdapter struct{}

func (anthropicAdapter) Dialect() string { return DialectAnthropic }

func (anthropicAdapter) Path() string { return "/v1/messages" }

func (anthropicAdapter) TerminalEvents() []string { return []string{"message_stop"} }

func (anthropicAdapter) MarshalRequest(req *types.Request) ([]byte, error) {
	return translate.AnthropicBody(req)
}

func (anthropicAdapter) DecorateHeaders(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
}

func (anthropicAdapter) ParseResponse(body []byte) (*types.Response, error) {
	return translate.CanonicalFromAnthropicResponse(body)
}

// anthropicStreamData is the union of Anthropic stream event payloads.
type anthropicStreamData struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string       `json:"id"`
		Model string       `json:"model"`
		Usage *types.Usage `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *types.Usage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseStreamEvent dispatches on the event name, falling back to the data
// type field when the upstream omitted event lines.
func (anthropicAdapter) ParseStreamEvent(frame sse.Frame) ([]translate.Event, error) {
	if frame.Data == sse.Done {
		return []translate.Event{{Kind: translate.KindTerminal}}, nil
	}

	var data anthropicStreamData
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil, fmt.Errorf("parse stream data: %w", err)
	}
	eventType := frame.Event
	if data.Type != "" {
		eventType = data.Type
	}

	switch eventType {
	case "message_start":
		ev := translate.Event{Kind: translate.KindStart}
		if data.Message != nil {
			ev.ID = data.Message.ID
			ev.Model = data.Message.Model
			ev.Usage = data.Message.Usage
		}
		return []translate.Event{ev}, nil

	case "content_block_start":
		if data.ContentBlock != nil && data.ContentBlock.Type == "tool_use" {
			return []translate.Event{{
				Kind:      translate.KindToolCallDelta,
				ToolIndex: data.Index,
				ToolID:    data.ContentBlock.ID,
				ToolName:  data.ContentBlock.Name,
			}}, nil
		}
		return []translate.Event{{Kind: translate.KindIgnore}}, nil

	case "content_block_delta":
		if data.Delta == nil {
			return []translate.Event{{Kind: translate.KindIgnore}}, nil
		}
		switch data.Delta.Type {
		case "text_delta":
			return []translate.Event{{Kind: translate.KindTextDelta, Text: data.Delta.Text}}, nil
		case "thinking_delta":
			return []translate.Event{{Kind: translate.KindReasoningDelta, Text: data.Delta.Thinking}}, nil
		case "input_json_delta":
			return []translate.Event{{
				Kind:      translate.KindToolCallDelta,
				ToolIndex: data.Index,
				ToolArgs:  data.Delta.PartialJSON,
			}}, nil
		default:
			return []translate.Event{{Kind: translate.KindIgnore}}, nil
		}

	case "message_delta":
		var events []translate.Event
		if data.Usage != nil {
			events = append(events, translate.Event{Kind: translate.KindUsage, Usage: data.Usage})
		}
		if data.Delta != nil && data.Delta.StopReason != "" {
			events = append(events, translate.Event{Kind: translate.KindFinish, Text: data.Delta.StopReason})
		}
		if events == nil {
			events = []translate.Event{{Kind: translate.KindIgnore}}
		}
		return events, nil

	case "message_stop":
		return []translate.Event{{Kind: translate.KindTerminal}}, nil

	case "error":
		msg := "upstream error"
		if data.Error != nil && data.Error.Message != "" {
			msg = data.Error.Message
		}
		return []translate.Event{{Kind: translate.KindFailed, Text: msg}}, nil

	default:
		// ping, content_block_stop, unknown future events
		return []translate.Event{{Kind: translate.KindIgnore}}, nil
	}
}
