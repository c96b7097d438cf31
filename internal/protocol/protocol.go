// Package protocol implements the per-dialect upstream adapters: request
// serialization with auth headers, non-streaming response parsing into the
// canonical shape, and stream frame parsing into dialect-agnostic events.
package protocol

import (
	"fmt"
	"net/http"

	"github.com/ferryman-dev/ferryman/internal/sse"
	"github.com/ferryman-dev/ferryman/internal/translate"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// Dialect identifiers, matching the config provider dialect values.
const (
	DialectAnthropic       = "anthropic"
	DialectOpenAIChat      = "openai"
	DialectOpenAIResponses = "openai-responses"
)

// Adapter is the upstream-facing side of one wire dialect.
type Adapter interface {
	// Dialect returns the adapter's dialect identifier.
	Dialect() string

	// Path is the endpoint path appended to the provider base URL.
	Path() string

	// TerminalEvents lists the dialect's terminal SSE event names, used to
	// configure the frame decoder. [DONE] is always terminal.
	TerminalEvents() []string

	// MarshalRequest serializes the canonical request for this dialect.
	MarshalRequest(req *types.Request) ([]byte, error)

	// DecorateHeaders sets the dialect's auth and version headers.
	DecorateHeaders(h http.Header, apiKey string)

	// ParseResponse parses a complete non-streaming body.
	ParseResponse(body []byte) (*types.Response, error)

	// ParseStreamEvent parses one decoded frame into zero or more events.
	// A malformed frame returns an error; callers log and skip it.
	ParseStreamEvent(frame sse.Frame) ([]translate.Event, error)
}

// ForDialect returns the adapter for a config dialect value.
func ForDialect(dialect string) (Adapter, error) {
	switch dialect {
	case DialectAnthropic:
		return anthropicAdapter{}, nil
	case DialectOpenAIChat:
		return chatAdapter{}, nil
	case DialectOpenAIResponses:
		return responsesAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
}
