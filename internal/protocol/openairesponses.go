package protocol

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/internal/sse"
	"github.com/ferryman-dev/ferryman/internal/translate"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

type responsesAdapter struct{}

func (responsesAdapter) Dialect() string { return DialectOpenAIResponses }

func (responsesAdapter) Path() string { return "/responses" }

func (responsesAdapter) TerminalEvents() []string {
	return []string{"response.completed", "response.failed"}
}

func (responsesAdapter) MarshalRequest(req *types.Request) ([]byte, error) {
	rr, err := translate.ResponsesFromCanonical(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rr)
}

func (responsesAdapter) DecorateHeaders(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (responsesAdapter) ParseResponse(body []byte) (*types.Response, error) {
	return translate.CanonicalFromResponsesResponse(body)
}

// responsesStreamData is the union of Responses stream event payloads.
type responsesStreamData struct {
	Type        string `json:"type"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
	Item        *struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item"`
	Response *struct {
		ID     string `json:"id"`
		Model  string `json:"model"`
		Status string `json:"status"`
		Usage  *struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (responsesAdapter) ParseStreamEvent(frame sse.Frame) ([]translate.Event, error) {
	if frame.Data == sse.Done {
		return []translate.Event{{Kind: translate.KindTerminal}}, nil
	}

	var data responsesStreamData
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil, fmt.Errorf("parse stream data: %w", err)
	}
	eventType := frame.Event
	if data.Type != "" {
		eventType = data.Type
	}

	switch eventType {
	case "response.created":
		ev := translate.Event{Kind: translate.KindStart}
		if data.Response != nil {
			ev.ID = data.Response.ID
			ev.Model = data.Response.Model
		}
		return []translate.Event{ev}, nil

	case "response.output_text.delta":
		return []translate.Event{{Kind: translate.KindTextDelta, Text: data.Delta}}, nil

	case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		return []translate.Event{{Kind: translate.KindReasoningDelta, Text: data.Delta}}, nil

	case "response.output_item.added":
		if data.Item != nil && data.Item.Type == "function_call" {
			return []translate.Event{{
				Kind:      translate.KindToolCallDelta,
				ToolIndex: data.OutputIndex,
				ToolID:    data.Item.CallID,
				ToolName:  data.Item.Name,
			}}, nil
		}
		return []translate.Event{{Kind: translate.KindIgnore}}, nil

	case "response.function_call_arguments.delta":
		return []translate.Event{{
			Kind:      translate.KindToolCallDelta,
			ToolIndex: data.OutputIndex,
			ToolArgs:  data.Delta,
		}}, nil

	case "response.completed":
		var events []translate.Event
		if data.Response != nil && data.Response.Usage != nil {
			events = append(events, translate.Event{
				Kind: translate.KindUsage,
				Usage: &types.Usage{
					InputTokens:  data.Response.Usage.InputTokens,
					OutputTokens: data.Response.Usage.OutputTokens,
				},
			})
		}
		events = append(events, translate.Event{Kind: translate.KindTerminal})
		return events, nil

	case "response.failed":
		msg := "upstream response failed"
		if data.Response != nil && data.Response.Error != nil && data.Response.Error.Message != "" {
			msg = data.Response.Error.Message
		}
		return []translate.Event{{Kind: translate.KindFailed, Text: msg}}, nil

	default:
		// output_item.done, content_part events, pings
		return []translate.Event{{Kind: translate.KindIgnore}}, nil
	}
}
