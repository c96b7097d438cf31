package translate

import (
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// EventsFromResponse converts a complete canonical response into the event
// sequence a stream of the same content would have produced. Used when the
// router forces non-streaming upstream but the client asked for SSE.
func EventsFromResponse(resp *types.Response) []Event {
	events := []Event{{
		Kind:  KindStart,
		ID:    resp.ID,
		Model: resp.Model,
	}}

	toolIndex := 0
	for _, block := range resp.Content {
		switch block.Type {
		case "thinking":
			if block.Thinking != "" {
				events = append(events, Event{Kind: KindReasoningDelta, Text: block.Thinking})
			}
		case "text":
			if block.Text != "" {
				events = append(events, Event{Kind: KindTextDelta, Text: block.Text})
			}
		case "tool_use":
			events = append(events, Event{
				Kind:      KindToolCallDelta,
				ToolIndex: toolIndex,
				ToolID:    block.ID,
				ToolName:  block.Name,
				ToolArgs:  string(block.Input),
			})
			toolIndex++
		}
	}

	if resp.Usage != nil {
		usage := *resp.Usage
		events = append(events, Event{Kind: KindUsage, Usage: &usage})
	}
	events = append(events,
		Event{Kind: KindFinish, Text: resp.StopReason},
		Event{Kind: KindTerminal},
	)
	return events
}
