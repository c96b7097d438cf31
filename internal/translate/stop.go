package translate

// Stop reason vocabulary mapping. The canonical interior vocabulary is the
// Anthropic one; OpenAI-shaped surfaces translate at the edge.

// StopReasonFromOpenAI maps an OpenAI finish_reason to canonical form.
func StopReasonFromOpenAI(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "":
		return ""
	default:
		return reason
	}
}

// StopReasonToOpenAI maps a canonical stop reason to OpenAI finish_reason.
func StopReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "":
		return "stop"
	default:
		return reason
	}
}
