package protocol

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/internal/sse"
	"github.com/ferryman-dev/ferryman/internal/translate"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

type chatAdapter struct{}

func (chatAdapter) Dialect() string { return DialectOpenAIChat }

func (chatAdapter) Path() string { return "/chat/completions" }

// Chat streams are data-only; [DONE] is the sole terminal marker.
func (chatAdapter) TerminalEvents() []string { return nil }

func (chatAdapter) MarshalRequest(req *types.Request) ([]byte, error) {
	chat, err := translate.ChatFromCanonical(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(chat)
}

func (chatAdapter) DecorateHeaders(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (chatAdapter) ParseResponse(body []byte) (*types.Response, error) {
	return translate.CanonicalFromChatResponse(body)
}

// chatChunk is one chat.completion.chunk payload.
type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role             string `json:"role"`
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			ToolCalls        []struct {
				Index    *int   `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`

		PromptTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (chatAdapter) ParseStreamEvent(frame sse.Frame) ([]translate.Event, error) {
	if frame.Data == sse.Done {
		return []translate.Event{{Kind: translate.KindTerminal}}, nil
	}

	var chunk chatChunk
	if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
		return nil, fmt.Errorf("parse chunk: %w", err)
	}

	var events []translate.Event

	if chunk.Usage != nil {
		usage := &types.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
		if chunk.Usage.PromptTokensDetails != nil {
			usage.CacheReadInputTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		events = append(events, translate.Event{Kind: translate.KindUsage, Usage: usage})
	}

	if len(chunk.Choices) == 0 {
		if events == nil {
			events = []translate.Event{{Kind: translate.KindIgnore}}
		}
		return events, nil
	}
	choice := chunk.Choices[0]

	// The first chunk announces the assistant role; treat it as the stream
	// start so the frontend learns the upstream id and model.
	if choice.Delta.Role != "" {
		events = append(events, translate.Event{
			Kind:  translate.KindStart,
			ID:    chunk.ID,
			Model: chunk.Model,
		})
	}

	if reasoning := choice.Delta.ReasoningContent + choice.Delta.Reasoning; reasoning != "" {
		events = append(events, translate.Event{Kind: translate.KindReasoningDelta, Text: reasoning})
	}
	if choice.Delta.Content != "" {
		events = append(events, translate.Event{Kind: translate.KindTextDelta, Text: choice.Delta.Content})
	}
	for i, tc := range choice.Delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		events = append(events, translate.Event{
			Kind:      translate.KindToolCallDelta,
			ToolIndex: index,
			ToolID:    tc.ID,
			ToolName:  tc.Function.Name,
			ToolArgs:  tc.Function.Arguments,
		})
	}
	if choice.FinishReason != "" {
		events = append(events, translate.Event{
			Kind: translate.KindFinish,
			Text: translate.StopReasonFromOpenAI(choice.FinishReason),
		})
	}

	if events == nil {
		events = []translate.Event{{Kind: translate.KindIgnore}}
	}
	return events, nil
}
