package cascade

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/metrics"
	"github.com/ferryman-dev/ferryman/internal/protocol"
	"github.com/ferryman-dev/ferryman/internal/sse"
	"github.com/ferryman-dev/ferryman/internal/streampipe"
	"github.com/ferryman-dev/ferryman/internal/translate"
)

// Stream is a committed upstream stream: one tier accepted the request and is
// sending SSE. The caller runs Pump in one goroutine to decode upstream
// bytes into the event queue and drains the queue with Next in another.
type Stream struct {
	Tier  string
	Route string
	Model string

	pipe     *streampipe.Pipe
	body     io.ReadCloser
	adapter  protocol.Adapter
	splitter *translate.ThinkSplitter
	logger   *slog.Logger
}

func (e *Executor) newStream(cfg *config.Config, pt *plannedTier, body io.ReadCloser) *Stream {
	s := &Stream{
		Tier:    pt.tier.Name,
		Route:   pt.tier.Route,
		Model:   pt.model,
		body:    body,
		adapter: pt.adapter,
		logger:  e.logger,
		pipe: streampipe.New(
			cfg.Router.SSEBufferSize,
			cfg.Router.EnqueueTimeout,
			streampipe.WithBackpressureHook(metrics.StreamBackpressureTotal.Inc),
		),
	}
	if start, end, ok := pt.chain.ThinkDelimiters(); ok {
		s.splitter = translate.NewThinkSplitter(start, end)
	}
	return s
}

// Next returns the next queued event. ok is false once the stream has ended
// and the queue is drained.
func (s *Stream) Next(ctx context.Context) (translate.Event, bool, error) {
	return s.pipe.Dequeue(ctx)
}

// Pump reads the upstream body to completion, decoding frames into events
// and enqueueing them. It closes the body and the queue on return. An
// upstream failure mid-stream is reported in-band as a KindFailed event, not
// as an error; Pump errors mean the client side gave up (cancellation or
// enqueue timeout).
func (s *Stream) Pump(ctx context.Context) error {
	defer s.pipe.Close()
	defer func() { _ = s.body.Close() }()

	dec := sse.NewDecoder(s.adapter.TerminalEvents()...)
	buf := make([]byte, 32*1024)
	terminal := false
	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				events, err := s.adapter.ParseStreamEvent(frame)
				if err != nil {
					// One malformed frame does not kill the stream.
					s.logger.Warn("skipping malformed stream frame", "tier", s.Tier, "error", err)
					continue
				}
				for _, ev := range events {
					for _, out := range s.expand(ev) {
						if err := s.pipe.Enqueue(ctx, out); err != nil {
							return err
						}
					}
					if ev.Kind == translate.KindTerminal || ev.Kind == translate.KindFailed {
						terminal = true
					}
				}
				if terminal {
					return nil
				}
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if terminal {
				return nil
			}
			message := "upstream stream ended unexpectedly"
			if !errors.Is(readErr, io.EOF) {
				message = "upstream connection lost: " + readErr.Error()
				s.logger.Warn("upstream read failed", "tier", s.Tier, "error", readErr)
			}
			_ = s.pipe.Enqueue(ctx, translate.Event{Kind: translate.KindFailed, Text: message})
			return nil
		}
	}
}

// expand applies the think splitter to text deltas, turning delimiter-wrapped
// spans into reasoning deltas. Without a splitter events pass through.
func (s *Stream) expand(ev translate.Event) []translate.Event {
	if s.splitter == nil {
		return []translate.Event{ev}
	}
	switch ev.Kind {
	case translate.KindTextDelta:
		visible, reasoning := s.splitter.Feed(ev.Text)
		out := make([]translate.Event, 0, 2)
		if reasoning != "" {
			out = append(out, translate.Event{Kind: translate.KindReasoningDelta, Text: reasoning})
		}
		if visible != "" {
			out = append(out, translate.Event{Kind: translate.KindTextDelta, Text: visible})
		}
		return out
	case translate.KindFinish, translate.KindTerminal, translate.KindFailed:
		visible, reasoning := s.splitter.Flush()
		s.splitter = nil
		out := make([]translate.Event, 0, 3)
		if reasoning != "" {
			out = append(out, translate.Event{Kind: translate.KindReasoningDelta, Text: reasoning})
		}
		if visible != "" {
			out = append(out, translate.Event{Kind: translate.KindTextDelta, Text: visible})
		}
		return append(out, ev)
	default:
		return []translate.Event{ev}
	}
}
