// Package translate converts requests, responses, and stream events between
// the three supported dialects: Anthropic Messages, OpenAI Chat Completions,
// and OpenAI Responses. The canonical interior shapes live in pkg/types;
// upstream adapters parse into the dialect-agnostic Event form defined here,
// and per-dialect assemblers render Events back into client wire frames.
package translate

import (
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// EventKind discriminates Event.
type EventKind int

const (
	// KindStart opens the stream; carries the upstream response id and model.
	KindStart EventKind = iota
	// KindTextDelta carries a fragment of assistant text.
	KindTextDelta
	// KindReasoningDelta carries a fragment of reasoning text.
	KindReasoningDelta
	// KindToolCallDelta carries a tool call fragment: the first fragment for
	// an index has the id and name, later ones append to the arguments.
	KindToolCallDelta
	// KindUsage carries a token usage update; the last one wins.
	KindUsage
	// KindFinish carries the stop reason, in canonical (Anthropic) vocabulary.
	KindFinish
	// KindTerminal ends the stream normally.
	KindTerminal
	// KindFailed ends the stream with an upstream error.
	KindFailed
	// KindIgnore marks frames with nothing to forward (pings, comments).
	KindIgnore
)

// Event is a dialect-agnostic stream event. Fields are populated per Kind.
type Event struct {
	Kind  EventKind
	ID    string // Start
	Model string // Start
	Text  string // TextDelta/ReasoningDelta fragment; Finish reason; Failed message

	ToolIndex int
	ToolID    string
	ToolName  string
	ToolArgs  string

	Usage *types.Usage
}

// Coalescable reports whether the event may be merged into a trailing queued
// event of the same kind and tool index. Only content-bearing deltas
// coalesce; everything else is a lifecycle event and must keep its slot.
func (e *Event) Coalescable() bool {
	switch e.Kind {
	case KindTextDelta, KindReasoningDelta, KindToolCallDelta:
		return true
	default:
		return false
	}
}

// MergeFrom appends the other event's fragment into e. Caller guarantees
// both are coalescable, same kind, same tool index.
func (e *Event) MergeFrom(other *Event) {
	if e.Kind == KindToolCallDelta {
		e.ToolArgs += other.ToolArgs
		return
	}
	e.Text += other.Text
}
