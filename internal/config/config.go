// Package config loads and validates the proxy configuration. Files are
// YAML with ${VAR} environment expansion; a loaded Config is an immutable
// snapshot, hot-reload swaps in a whole new one.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete proxy configuration snapshot.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Providers []ProviderConfig  `yaml:"providers"`
	Router    RouterConfig      `yaml:"router"`
	Presets   map[string]Preset `yaml:"presets"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Logging   LoggingConfig     `yaml:"logging"`
	Redis     RedisConfig       `yaml:"redis"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	APITimeout      time.Duration `yaml:"api_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxStreams      int           `yaml:"max_streams"`
}

// ProviderConfig defines a single upstream provider.
type ProviderConfig struct {
	Name         string             `yaml:"name"`
	Dialect      string             `yaml:"dialect"` // openai, anthropic, openai-responses
	BaseURL      string             `yaml:"base_url"`
	APIKey       string             `yaml:"api_key"`
	Models       []string           `yaml:"models"`
	Transformers []TransformerEntry `yaml:"transformers"`

	// ModelTransformers replaces the provider chain for the named model.
	ModelTransformers map[string][]TransformerEntry `yaml:"model_transformers"`

	Headers map[string]string `yaml:"headers"`
}

// HasModel reports whether the provider lists the model id.
func (p *ProviderConfig) HasModel(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// ChainFor returns the transformer chain for a model: the per-model override
// when present, the provider chain otherwise.
func (p *ProviderConfig) ChainFor(model string) []TransformerEntry {
	if chain, ok := p.ModelTransformers[model]; ok {
		return chain
	}
	return p.Transformers
}

// TransformerEntry is one element of a transformer chain. In YAML it is
// either a bare string or a mapping {name, options}.
type TransformerEntry struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// UnmarshalYAML accepts both entry shapes.
func (e *TransformerEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.Name)
	}
	type plain TransformerEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("transformer entry missing name")
	}
	*e = TransformerEntry(p)
	return nil
}

// RouterConfig carries the cascade definition.
type RouterConfig struct {
	Tiers               []TierConfig  `yaml:"tiers"`
	IgnoreDirectRouting bool          `yaml:"ignore_direct_routing"`
	ForceNonStreaming   bool          `yaml:"force_non_streaming"`
	LongContextRoute    string        `yaml:"long_context_route"`
	LongContextTokens   int           `yaml:"long_context_tokens"`
	Retry               RetryPolicy   `yaml:"retry"`
	SSEBufferSize       int           `yaml:"sse_buffer_size"`
	EnqueueTimeout      time.Duration `yaml:"enqueue_timeout"`
}

// TierConfig binds a "provider,model" route to a cascade position. Name
// defaults to the provider part of the route. Retry overrides the router
// default when set.
type TierConfig struct {
	Name  string       `yaml:"name"`
	Route string       `yaml:"route"`
	Retry *RetryPolicy `yaml:"retry"`
}

// RetryPolicy governs same-tier retries and backoff.
type RetryPolicy struct {
	MaxRetries        int     `yaml:"max_retries"`
	BaseBackoffMS     int     `yaml:"base_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffMS      int     `yaml:"max_backoff_ms"`
}

// backoffBaselineMS anchors the EWMA scaling of backoff delays.
const backoffBaselineMS = 1000.0

// Backoff computes the delay before retry attempt n on the same tier:
// min(base·multiplier^n, max), scaled up by ewmaMS/baseline when the tier is
// slower than baseline, and re-capped at max. Slow tiers back off longer
// than their nominal policy; fast tiers are never scaled below it.
func (p RetryPolicy) Backoff(attempt int, ewmaMS float64) time.Duration {
	base := float64(p.BaseBackoffMS)
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	delay := base * math.Pow(mult, float64(attempt))
	maxMS := float64(p.MaxBackoffMS)
	if maxMS > 0 {
		delay = math.Min(delay, maxMS)
	}
	if ewmaMS > backoffBaselineMS {
		delay *= ewmaMS / backoffBaselineMS
		if maxMS > 0 {
			delay = math.Min(delay, maxMS)
		}
	}
	return time.Duration(delay) * time.Millisecond
}

// Preset is a named route plus parameter overrides, reachable at
// /preset/{name}/v1/messages.
type Preset struct {
	Route       string   `yaml:"route"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
	Stream      *bool    `yaml:"stream"`
}

// RateLimitConfig defines the inbound token-bucket limiter.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RedisConfig enables optional state persistence.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3456,
			APITimeout:      10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxStreams:      512,
		},
		Router: RouterConfig{
			Retry: RetryPolicy{
				MaxRetries:        2,
				BaseBackoffMS:     500,
				BackoffMultiplier: 2,
				MaxBackoffMS:      10000,
			},
			SSEBufferSize:  256,
			EnqueueTimeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 600,
			BurstSize:         60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			KeyPrefix: "ferryman",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the form ${VAR_NAME} are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// SplitRoute splits a "provider,model" route string.
func SplitRoute(route string) (provider, model string, ok bool) {
	provider, model, ok = strings.Cut(route, ",")
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if !ok || provider == "" || model == "" {
		return "", "", false
	}
	return provider, model, true
}

// Provider looks up a provider by name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// ResolveTier resolves a "provider,model" route, verifying the provider
// exists and lists the model.
func (c *Config) ResolveTier(route string) (*ProviderConfig, string, error) {
	providerName, model, ok := SplitRoute(route)
	if !ok {
		return nil, "", fmt.Errorf("route %q is not of the form \"provider,model\"", route)
	}
	p, found := c.Provider(providerName)
	if !found {
		return nil, "", fmt.Errorf("unknown provider %q", providerName)
	}
	if !p.HasModel(model) {
		return nil, "", fmt.Errorf("provider %q does not list model %q", providerName, model)
	}
	return p, model, nil
}

// TierRetry returns the effective retry policy for a tier.
func (c *Config) TierRetry(tier TierConfig) RetryPolicy {
	if tier.Retry != nil {
		return *tier.Retry
	}
	return c.Router.Retry
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Dialect {
		case "openai", "anthropic", "openai-responses":
		default:
			return fmt.Errorf("provider %q: unknown dialect %q", p.Name, p.Dialect)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %q: at least one model must be configured", p.Name)
		}
	}

	if len(c.Router.Tiers) == 0 {
		return fmt.Errorf("router: at least one tier must be configured")
	}
	tierNames := make(map[string]struct{}, len(c.Router.Tiers))
	for i := range c.Router.Tiers {
		t := &c.Router.Tiers[i]
		if _, _, err := c.ResolveTier(t.Route); err != nil {
			return fmt.Errorf("router.tiers[%d]: %w", i, err)
		}
		if t.Name == "" {
			t.Name, _, _ = SplitRoute(t.Route)
		}
		if _, dup := tierNames[t.Name]; dup {
			return fmt.Errorf("router.tiers[%d]: duplicate tier name %q", i, t.Name)
		}
		tierNames[t.Name] = struct{}{}
		if t.Retry != nil && t.Retry.MaxRetries < 0 {
			return fmt.Errorf("router.tiers[%d]: max_retries cannot be negative", i)
		}
	}
	if c.Router.Retry.MaxRetries < 0 {
		return fmt.Errorf("router.retry.max_retries cannot be negative")
	}
	if c.Router.SSEBufferSize <= 0 {
		return fmt.Errorf("router.sse_buffer_size must be positive")
	}
	if c.Router.LongContextRoute != "" {
		if _, _, err := c.ResolveTier(c.Router.LongContextRoute); err != nil {
			return fmt.Errorf("router.long_context_route: %w", err)
		}
	}

	for name, preset := range c.Presets {
		if _, _, err := c.ResolveTier(preset.Route); err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
	}

	return nil
}
