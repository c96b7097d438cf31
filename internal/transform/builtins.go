package transform

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func registerBuiltins(r *Registry) {
	must := func(name string, f Factory) {
		if err := r.Register(name, f); err != nil {
			panic(err)
		}
	}
	must("identity", func(map[string]any) (Transformer, error) { return passthrough{"identity"}, nil })
	must("anthropic", func(map[string]any) (Transformer, error) { return passthrough{"anthropic"}, nil })
	must("tooluse", func(map[string]any) (Transformer, error) { return toolUse{}, nil })
	must("reasoning", func(map[string]any) (Transformer, error) { return reasoningFlatten{}, nil })
	must("deepseek", func(map[string]any) (Transformer, error) { return deepseekReasoning{}, nil })
	must("thinktag", func(map[string]any) (Transformer, error) {
		return thinkExtract{name: "thinktag", start: "<think>", end: "</think>"}, nil
	})
	must("tokenpair", newTokenPair)
	must("maxtoken", newMaxToken)
	must("enhancetool", func(map[string]any) (Transformer, error) { return cacheEnhancer{}, nil })
	must("openrouter", newOpenRouter)
}

// passthrough is a no-op transformer. "identity" is the explicit no-op;
// "anthropic" marks a provider whose wire dialect already matches the
// canonical shape so no rewriting is needed.
type passthrough struct{ name string }

func (p passthrough) Name() string { return p.name }

func (p passthrough) RewriteRequest(body []byte) ([]byte, error) { return body, nil }

func (p passthrough) RewriteResponse(body []byte) ([]byte, error) { return body, nil }

// toolUse normalizes tool definitions to the OpenAI function-wrapper shape
// and drops a dangling tool_choice when no tools survive.
type toolUse struct{}

func (toolUse) Name() string { return "tooluse" }

func (toolUse) RewriteRequest(body []byte) ([]byte, error) {
	tools := gjson.GetBytes(body, "tools")
	if !tools.Exists() {
		if gjson.GetBytes(body, "tool_choice").Exists() {
			return sjson.DeleteBytes(body, "tool_choice")
		}
		return body, nil
	}

	var err error
	for i, tool := range tools.Array() {
		if tool.Get("function").Exists() {
			continue
		}
		name := tool.Get("name").Str
		if name == "" {
			continue
		}
		fn := map[string]any{"name": name}
		if desc := tool.Get("description"); desc.Exists() {
			fn["description"] = desc.Str
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			fn["parameters"] = schema.Value()
		} else if params := tool.Get("parameters"); params.Exists() {
			fn["parameters"] = params.Value()
		}
		wrapped := map[string]any{"type": "function", "function": fn}
		body, err = sjson.SetBytes(body, fmt.Sprintf("tools.%d", i), wrapped)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (toolUse) RewriteResponse(body []byte) ([]byte, error) { return body, nil }

// reasoningFlatten folds structured reasoning_details arrays into a single
// reasoning_content string on each choice, for both complete messages and
// stream deltas.
type reasoningFlatten struct{}

func (reasoningFlatten) Name() string { return "reasoning" }

func (reasoningFlatten) RewriteRequest(body []byte) ([]byte, error) { return body, nil }

func (reasoningFlatten) RewriteResponse(body []byte) ([]byte, error) {
	var err error
	for i, choice := range gjson.GetBytes(body, "choices").Array() {
		for _, holder := range []string{"message", "delta"} {
			details := choice.Get(holder + ".reasoning_details")
			if !details.IsArray() {
				continue
			}
			var parts []string
			for _, d := range details.Array() {
				if text := d.Get("text"); text.Exists() {
					parts = append(parts, text.Str)
				} else if s := d.Get("summary"); s.Exists() {
					parts = append(parts, s.Str)
				}
			}
			base := fmt.Sprintf("choices.%d.%s", i, holder)
			if len(parts) > 0 && !choice.Get(holder+".reasoning_content").Exists() {
				body, err = sjson.SetBytes(body, base+".reasoning_content", strings.Join(parts, "\n"))
				if err != nil {
					return nil, err
				}
			}
			body, err = sjson.DeleteBytes(body, base+".reasoning_details")
			if err != nil {
				return nil, err
			}
		}
	}
	return body, nil
}

// deepseekReasoning renames the bare "reasoning" field some gateways emit
// to the native DeepSeek reasoning_content field.
type deepseekReasoning struct{}

func (deepseekReasoning) Name() string { return "deepseek" }

func (deepseekReasoning) RewriteRequest(body []byte) ([]byte, error) { return body, nil }

func (deepseekReasoning) RewriteResponse(body []byte) ([]byte, error) {
	var err error
	for i, choice := range gjson.GetBytes(body, "choices").Array() {
		for _, holder := range []string{"message", "delta"} {
			reasoning := choice.Get(holder + ".reasoning")
			if !reasoning.Exists() || choice.Get(holder+".reasoning_content").Exists() {
				continue
			}
			base := fmt.Sprintf("choices.%d.%s", i, holder)
			body, err = sjson.SetBytes(body, base+".reasoning_content", reasoning.Str)
			if err != nil {
				return nil, err
			}
			body, err = sjson.DeleteBytes(body, base+".reasoning")
			if err != nil {
				return nil, err
			}
		}
	}
	return body, nil
}

// thinkExtract pulls delimiter-wrapped reasoning out of the visible message
// content into reasoning_content. Used for models that inline their chain
// of thought (<think> tags, or provider-specific token pairs).
type thinkExtract struct {
	name  string
	start string
	end   string
}

func newTokenPair(options map[string]any) (Transformer, error) {
	t := thinkExtract{name: "tokenpair", start: "◁think▷", end: "◁/think▷"}
	if s, ok := options["start"].(string); ok && s != "" {
		t.start = s
	}
	if e, ok := options["end"].(string); ok && e != "" {
		t.end = e
	}
	return t, nil
}

func (t thinkExtract) Name() string { return t.name }

func (t thinkExtract) ThinkDelimiters() (string, string) { return t.start, t.end }

func (t thinkExtract) RewriteRequest(body []byte) ([]byte, error) { return body, nil }

func (t thinkExtract) RewriteResponse(body []byte) ([]byte, error) {
	var err error
	for i, choice := range gjson.GetBytes(body, "choices").Array() {
		content := choice.Get("message.content")
		if !content.Exists() || content.Type != gjson.String {
			continue
		}
		visible, reasoning := t.split(content.Str)
		if reasoning == "" {
			continue
		}
		base := fmt.Sprintf("choices.%d.message", i)
		body, err = sjson.SetBytes(body, base+".content", visible)
		if err != nil {
			return nil, err
		}
		if !choice.Get("message.reasoning_content").Exists() {
			body, err = sjson.SetBytes(body, base+".reasoning_content", reasoning)
			if err != nil {
				return nil, err
			}
		}
	}
	return body, nil
}

// split removes every start..end span from s, returning the remaining
// visible text and the concatenated reasoning. An unclosed start delimiter
// treats the rest of the string as reasoning.
func (t thinkExtract) split(s string) (visible, reasoning string) {
	var vis, think strings.Builder
	for {
		i := strings.Index(s, t.start)
		if i < 0 {
			vis.WriteString(s)
			break
		}
		vis.WriteString(s[:i])
		s = s[i+len(t.start):]
		j := strings.Index(s, t.end)
		if j < 0 {
			think.WriteString(s)
			break
		}
		think.WriteString(s[:j])
		s = s[j+len(t.end):]
	}
	return strings.TrimSpace(vis.String()), strings.TrimSpace(think.String())
}

// maxToken caps the request max_tokens field.
type maxToken struct {
	limit int64
}

func newMaxToken(options map[string]any) (Transformer, error) {
	limit, ok := intOption(options, "max_tokens")
	if !ok || limit <= 0 {
		return nil, fmt.Errorf("maxtoken requires a positive max_tokens option")
	}
	return maxToken{limit: limit}, nil
}

func (m maxToken) Name() string { return "maxtoken" }

func (m maxToken) RewriteRequest(body []byte) ([]byte, error) {
	current := gjson.GetBytes(body, "max_tokens")
	if current.Exists() && current.Int() <= m.limit {
		return body, nil
	}
	return sjson.SetBytes(body, "max_tokens", m.limit)
}

func (m maxToken) RewriteResponse(body []byte) ([]byte, error) { return body, nil }

// cacheEnhancer marks the last system block and the last tool definition
// with ephemeral cache_control, for providers that honor prompt caching.
type cacheEnhancer struct{}

func (cacheEnhancer) Name() string { return "enhancetool" }

func (cacheEnhancer) RewriteRequest(body []byte) ([]byte, error) {
	var err error
	ephemeral := map[string]any{"type": "ephemeral"}

	if system := gjson.GetBytes(body, "system"); system.IsArray() {
		if n := len(system.Array()); n > 0 {
			body, err = sjson.SetBytes(body, fmt.Sprintf("system.%d.cache_control", n-1), ephemeral)
			if err != nil {
				return nil, err
			}
		}
	}
	if tools := gjson.GetBytes(body, "tools"); tools.IsArray() {
		if n := len(tools.Array()); n > 0 {
			body, err = sjson.SetBytes(body, fmt.Sprintf("tools.%d.cache_control", n-1), ephemeral)
			if err != nil {
				return nil, err
			}
		}
	}
	return body, nil
}

func (cacheEnhancer) RewriteResponse(body []byte) ([]byte, error) { return body, nil }

// openRouter attaches the aggregator attribution headers.
type openRouter struct {
	referer string
	title   string
}

func newOpenRouter(options map[string]any) (Transformer, error) {
	o := openRouter{referer: "https://github.com/ferryman-dev/ferryman", title: "ferryman"}
	if s, ok := options["referer"].(string); ok && s != "" {
		o.referer = s
	}
	if s, ok := options["title"].(string); ok && s != "" {
		o.title = s
	}
	return o, nil
}

func (o openRouter) Name() string { return "openrouter" }

func (o openRouter) RewriteRequest(body []byte) ([]byte, error) { return body, nil }

func (o openRouter) RewriteResponse(body []byte) ([]byte, error) { return body, nil }

func (o openRouter) Headers() map[string]string {
	return map[string]string{
		"HTTP-Referer": o.referer,
		"X-Title":      o.title,
	}
}

// intOption reads an integer option that YAML may have decoded as int,
// int64, uint64, or float64.
func intOption(options map[string]any, key string) (int64, bool) {
	switch v := options[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
