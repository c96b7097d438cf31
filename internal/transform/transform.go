// Package transform implements named request/response rewriters composed
// into per-provider and per-model chains. Transformers operate on the
// dialect-specific JSON body right before dispatch (requests) and right
// after receipt (responses), using gjson/sjson for surgical edits so
// unknown fields pass through untouched.
package transform

import (
	"fmt"
	"sort"
	"sync"
)

// Transformer rewrites upstream-dialect JSON bodies. Both operations are
// pure: they return a new body (or the input unchanged) and never mutate
// shared state.
type Transformer interface {
	Name() string
	RewriteRequest(body []byte) ([]byte, error)
	RewriteResponse(body []byte) ([]byte, error)
}

// HeaderDecorator is implemented by transformers that attach extra request
// headers (e.g. aggregator attribution).
type HeaderDecorator interface {
	Headers() map[string]string
}

// ThinkDelimiterProvider is implemented by transformers that strip inline
// reasoning delimiters from response text. RewriteResponse handles complete
// bodies; streams need the raw delimiters so text deltas can be split
// incrementally instead.
type ThinkDelimiterProvider interface {
	ThinkDelimiters() (start, end string)
}

// Factory builds a transformer from its config options.
type Factory func(options map[string]any) (Transformer, error)

// Registry maps transformer names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in transformers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerBuiltins(r)
	return r
}

// Register adds a factory under a unique name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("transformer %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Build instantiates a transformer by name.
func (r *Registry) Build(name string, options map[string]any) (Transformer, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
	return f(options)
}

// Names returns the registered transformer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain is an ordered transformer sequence. Request rewriting applies
// left-to-right; response rewriting applies right-to-left (mirror order),
// so the transformer closest to the wire undoes its work first.
type Chain struct {
	transformers []Transformer
}

// NewChain builds a chain from already-instantiated transformers.
func NewChain(transformers ...Transformer) *Chain {
	return &Chain{transformers: transformers}
}

// BuildChain instantiates a chain from (name, options) pairs.
func (r *Registry) BuildChain(entries []ChainEntry) (*Chain, error) {
	ts := make([]Transformer, 0, len(entries))
	for _, e := range entries {
		t, err := r.Build(e.Name, e.Options)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return NewChain(ts...), nil
}

// ChainEntry mirrors a config transformer entry without importing config.
type ChainEntry struct {
	Name    string
	Options map[string]any
}

// RewriteRequest applies every transformer left-to-right.
func (c *Chain) RewriteRequest(body []byte) ([]byte, error) {
	var err error
	for _, t := range c.transformers {
		body, err = t.RewriteRequest(body)
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", t.Name(), err)
		}
	}
	return body, nil
}

// RewriteResponse applies every transformer right-to-left.
func (c *Chain) RewriteResponse(body []byte) ([]byte, error) {
	var err error
	for i := len(c.transformers) - 1; i >= 0; i-- {
		body, err = c.transformers[i].RewriteResponse(body)
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", c.transformers[i].Name(), err)
		}
	}
	return body, nil
}

// ThinkDelimiters returns the reasoning delimiters of the first delimiter
// provider in the chain, if any.
func (c *Chain) ThinkDelimiters() (start, end string, ok bool) {
	for _, t := range c.transformers {
		if p, found := t.(ThinkDelimiterProvider); found {
			start, end = p.ThinkDelimiters()
			return start, end, true
		}
	}
	return "", "", false
}

// Headers merges the extra headers contributed by every HeaderDecorator in
// the chain, in chain order.
func (c *Chain) Headers() map[string]string {
	var out map[string]string
	for _, t := range c.transformers {
		d, ok := t.(HeaderDecorator)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		for k, v := range d.Headers() {
			out[k] = v
		}
	}
	return out
}
