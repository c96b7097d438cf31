package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/metrics"
	"github.com/ferryman-dev/ferryman/internal/translate"
	perrors "github.com/ferryman-dev/ferryman/pkg/errors"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// maxRequestBody caps inbound request bodies at 50 MiB.
const maxRequestBody = 50 << 20

// surface identifies the client-facing dialect of an endpoint.
type surface int

const (
	surfaceAnthropic surface = iota
	surfaceChat
	surfaceResponses
)

func (s surface) String() string {
	switch s {
	case surfaceChat:
		return "openai-chat"
	case surfaceResponses:
		return "openai-responses"
	default:
		return "anthropic"
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.handleInference(w, r, surfaceAnthropic, nil)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleInference(w, r, surfaceChat, nil)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.handleInference(w, r, surfaceResponses, nil)
}

func (s *Server) handlePresetMessages(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg := s.manager.Get()
	preset, ok := cfg.Presets[name]
	if !ok {
		s.writeError(w, surfaceAnthropic, &perrors.ProxyError{
			StatusCode: http.StatusNotFound,
			Type:       perrors.TypeRouteResolution,
			Message:    "unknown preset " + strconv.Quote(name),
		})
		metrics.RequestsTotal.WithLabelValues(surfaceAnthropic.String(), "404").Inc()
		return
	}
	s.handleInference(w, r, surfaceAnthropic, &preset)
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request, sf surface, preset *config.Preset) {
	cfg := s.manager.Get()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.finish(w, sf, perrors.NewUpstreamClientError("", "", http.StatusBadRequest, "read request: "+err.Error()))
		return
	}

	req, err := parseInbound(sf, body)
	if err != nil {
		s.finish(w, sf, perrors.NewUpstreamClientError("", "", http.StatusBadRequest, "parse request: "+err.Error()))
		return
	}
	if preset != nil {
		applyPreset(req, preset)
	}

	ctx := r.Context()
	if cfg.Server.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Server.APITimeout)
		defer cancel()
	}

	switch {
	case req.Stream && !cfg.Router.ForceNonStreaming:
		s.streamInference(ctx, w, cfg, req, sf)
	case req.Stream:
		s.synthesizedStream(ctx, w, cfg, req, sf)
	default:
		s.blockingInference(ctx, w, cfg, req, sf)
	}
}

func (s *Server) blockingInference(ctx context.Context, w http.ResponseWriter, cfg *config.Config, req *types.Request, sf surface) {
	res, err := s.executor.Execute(ctx, cfg, req)
	if err != nil {
		s.finish(w, sf, err)
		return
	}
	s.recordUsage(res.Tier, res.Response.Usage)

	rendered, err := renderOutbound(sf, res.Response)
	if err != nil {
		s.finish(w, sf, perrors.NewTranslationError("render response: "+err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(tierHeader, res.Tier)
	_, _ = w.Write(rendered)
	metrics.RequestsTotal.WithLabelValues(sf.String(), "200").Inc()
}

// finish writes an error response and counts the request.
func (s *Server) finish(w http.ResponseWriter, sf surface, err error) {
	status := s.writeError(w, sf, err)
	metrics.RequestsTotal.WithLabelValues(sf.String(), strconv.Itoa(status)).Inc()
}

func parseInbound(sf surface, body []byte) (*types.Request, error) {
	switch sf {
	case surfaceChat:
		return translate.CanonicalFromChatRequest(body)
	case surfaceResponses:
		return translate.CanonicalFromResponsesRequest(body)
	default:
		return translate.CanonicalFromAnthropicRequest(body)
	}
}

func renderOutbound(sf surface, resp *types.Response) ([]byte, error) {
	switch sf {
	case surfaceChat:
		return translate.RenderChat(resp)
	case surfaceResponses:
		return translate.RenderResponses(resp)
	default:
		return translate.RenderAnthropic(resp)
	}
}

func applyPreset(req *types.Request, p *config.Preset) {
	req.Model = p.Route
	if p.Temperature != nil {
		req.Temperature = p.Temperature
	}
	if p.MaxTokens != nil {
		req.MaxTokens = p.MaxTokens
	}
	if p.Stream != nil {
		req.Stream = *p.Stream
	}
}

func (s *Server) recordUsage(tier string, usage *types.Usage) {
	if usage == nil || *usage == (types.Usage{}) {
		return
	}
	s.accountant.Record(tier, *usage)
	metrics.TokensTotal.WithLabelValues(tier, "input").Add(float64(usage.InputTokens))
	metrics.TokensTotal.WithLabelValues(tier, "output").Add(float64(usage.OutputTokens))
	if usage.CacheReadInputTokens > 0 {
		metrics.TokensTotal.WithLabelValues(tier, "cache_read").Add(float64(usage.CacheReadInputTokens))
	}
	if usage.CacheCreationInputTokens > 0 {
		metrics.TokensTotal.WithLabelValues(tier, "cache_creation").Add(float64(usage.CacheCreationInputTokens))
	}
}

// writeError renders err in the surface's error shape and returns the status
// written.
func (s *Server) writeError(w http.ResponseWriter, sf surface, err error) int {
	pe, ok := perrors.AsProxyError(err)
	if !ok {
		pe = &perrors.ProxyError{
			StatusCode: http.StatusInternalServerError,
			Type:       "internal_error",
			Message:    err.Error(),
		}
	}
	status := pe.HTTPStatusCode()

	var payload any
	if sf == surfaceAnthropic {
		payload = map[string]any{
			"type": "error",
			"error": map[string]string{
				"type":    pe.Type,
				"message": pe.Message,
			},
		}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"type":    pe.Type,
				"message": pe.Message,
				"code":    status,
			},
		}
	}
	body, merr := json.Marshal(payload)
	if merr != nil {
		http.Error(w, pe.Message, status)
		return status
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return status
}
