package api

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/metrics"
	"github.com/ferryman-dev/ferryman/internal/streampipe"
	"github.com/ferryman-dev/ferryman/internal/translate"
	perrors "github.com/ferryman-dev/ferryman/pkg/errors"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

func newAssembler(sf surface, model string) translate.Assembler {
	switch sf {
	case surfaceChat:
		return translate.NewChatAssembler(model)
	case surfaceResponses:
		return translate.NewResponsesAssembler(model)
	default:
		return translate.NewAnthropicAssembler(model)
	}
}

func sseHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// streamInference runs the cascade in streaming mode and relays events to
// the client. Failover happens only before the upstream stream commits; all
// errors after the first written byte surface as in-stream failure frames.
func (s *Server) streamInference(ctx context.Context, w http.ResponseWriter, cfg *config.Config, req *types.Request, sf surface) {
	if !s.streams.TryAcquire(1) {
		s.finish(w, sf, &perrors.ProxyError{
			StatusCode: http.StatusServiceUnavailable,
			Type:       perrors.TypeRateLimited,
			Message:    "concurrent stream limit reached",
		})
		return
	}
	defer s.streams.Release(1)
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	st, err := s.executor.ExecuteStream(ctx, cfg, req)
	if err != nil {
		// Exhaustion on a streaming request stays on the SSE transport:
		// clients mid-conversation cannot handle a non-2xx, so the failure
		// rides a single dialect-appropriate error frame.
		if pe, isProxy := perrors.AsProxyError(err); isProxy && pe.Type == perrors.TypeCascadeExhausted {
			s.failStream(w, sf, pe.Message)
			return
		}
		s.finish(w, sf, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.finish(w, sf, perrors.NewTranslationError("response writer does not support streaming"))
		return
	}
	sseHeaders(w)
	w.Header().Set(tierHeader, st.Tier)
	w.WriteHeader(http.StatusOK)
	metrics.RequestsTotal.WithLabelValues(sf.String(), "200").Inc()

	asm := newAssembler(sf, st.Model)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.Pump(gctx) })

	var usage types.Usage
writer:
	for {
		ev, more, err := st.Next(gctx)
		if err != nil || !more {
			break
		}
		if ev.Kind == translate.KindUsage && ev.Usage != nil {
			usage.Merge(*ev.Usage)
		}
		for _, frame := range asm.Feed(ev) {
			// A failed write means the client is gone; stop draining so the
			// pump's enqueue timeout can tear the upstream down.
			if _, err := w.Write(frame); err != nil {
				break writer
			}
			flusher.Flush()
		}
	}

	if err := g.Wait(); err != nil && errors.Is(err, streampipe.ErrEnqueueTimeout) {
		for _, frame := range asm.Fail("stream aborted: client not reading") {
			_, _ = w.Write(frame)
		}
		flusher.Flush()
	}
	s.recordUsage(st.Tier, &usage)
}

// failStream opens an SSE response whose only content is the surface's
// terminal failure frame sequence.
func (s *Server) failStream(w http.ResponseWriter, sf surface, message string) {
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)
	metrics.RequestsTotal.WithLabelValues(sf.String(), "200").Inc()

	asm := newAssembler(sf, "")
	for _, frame := range asm.Fail(message) {
		_, _ = w.Write(frame)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// synthesizedStream serves a client that asked for SSE while the router
// forces non-streaming upstream: run the blocking cascade and replay the
// complete response as a synthetic event stream.
func (s *Server) synthesizedStream(ctx context.Context, w http.ResponseWriter, cfg *config.Config, req *types.Request, sf surface) {
	upstream := req.Clone()
	upstream.Stream = false
	res, err := s.executor.Execute(ctx, cfg, upstream)
	if err != nil {
		s.finish(w, sf, err)
		return
	}
	s.recordUsage(res.Tier, res.Response.Usage)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.finish(w, sf, perrors.NewTranslationError("response writer does not support streaming"))
		return
	}
	sseHeaders(w)
	w.Header().Set(tierHeader, res.Tier)
	w.WriteHeader(http.StatusOK)
	metrics.RequestsTotal.WithLabelValues(sf.String(), "200").Inc()

	asm := newAssembler(sf, res.Response.Model)
	for _, ev := range translate.EventsFromResponse(res.Response) {
		for _, frame := range asm.Feed(ev) {
			_, _ = w.Write(frame)
		}
	}
	flusher.Flush()
}
