// Package cascade implements the tier fallback loop: order tiers by observed
// latency, dispatch to each in turn with per-tier retries and EWMA-scaled
// backoff, skip tiers in rate-limit cooldown, and surface a typed error once
// every tier has been tried.
package cascade

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/metrics"
	"github.com/ferryman-dev/ferryman/internal/routing"
	"github.com/ferryman-dev/ferryman/internal/transform"
	perrors "github.com/ferryman-dev/ferryman/pkg/errors"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// Executor runs the cascade for one request at a time; it is safe for
// concurrent use across requests.
type Executor struct {
	tracker  *routing.Tracker
	registry *transform.Registry
	client   *http.Client
	logger   *slog.Logger
}

// New builds an executor. client may be nil, in which case a default client
// without a global timeout is used (per-request deadlines come from the
// caller's context).
func New(tracker *routing.Tracker, registry *transform.Registry, client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tracker:  tracker,
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// Result is a completed non-streaming cascade run.
type Result struct {
	Response *types.Response
	Tier     string
	Route    string
}

// Execute runs the cascade for a non-streaming request and returns the
// canonical response of the first tier that succeeds.
func (e *Executor) Execute(ctx context.Context, cfg *config.Config, req *types.Request) (*Result, error) {
	res, _, err := e.run(ctx, cfg, req, false)
	return res, err
}

// ExecuteStream runs the cascade until a tier accepts the request and starts
// streaming. The returned Stream is committed to that tier: the caller pumps
// upstream bytes into the event queue and drains it toward the client; there
// is no failover after the first event reaches the client.
func (e *Executor) ExecuteStream(ctx context.Context, cfg *config.Config, req *types.Request) (*Stream, error) {
	_, st, err := e.run(ctx, cfg, req, true)
	return st, err
}

func (e *Executor) run(ctx context.Context, cfg *config.Config, req *types.Request, stream bool) (*Result, *Stream, error) {
	plan, _, err := e.plan(cfg, req)
	if err != nil {
		return nil, nil, err
	}
	if len(plan) == 0 {
		return nil, nil, perrors.NewConfigError("no usable tiers configured")
	}

	var lastErr error
	for round := 0; ; round++ {
		attempted := false
		for i := range plan {
			pt := &plan[i]
			// Cooldown applies to every tier, directly-routed ones included;
			// the all-in-cooldown wait below covers the nothing-left case.
			if e.tracker.ShouldSkip(pt.tier.Name) {
				continue
			}
			attempted = true
			res, st, err := e.tryTier(ctx, cfg, pt, req, stream)
			if err == nil {
				return res, st, nil
			}
			lastErr = err
			if perrors.IsCancelled(err) {
				return nil, nil, err
			}
		}
		if attempted || round >= 1 {
			break
		}

		// Every tier is in cooldown. Wait for the earliest to come back and
		// run the cascade once more.
		wakeAt := e.tracker.EarliestAvailable(tierList(plan))
		if wakeAt.IsZero() {
			continue
		}
		e.logger.Info("all tiers in cooldown, waiting", "until", wakeAt)
		select {
		case <-ctx.Done():
			return nil, nil, perrors.NewCancelledError("client cancelled while waiting for tier cooldown")
		case <-time.After(time.Until(wakeAt)):
		}
	}

	metrics.CascadeExhaustedTotal.Inc()
	reason := "no tier available"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return nil, nil, perrors.NewCascadeExhaustedError(reason)
}

// tryTier runs the per-tier retry loop: up to MaxRetries same-tier retries on
// retryable errors, immediate advance on 429 and non-429 4xx.
func (e *Executor) tryTier(ctx context.Context, cfg *config.Config, pt *plannedTier, req *types.Request, stream bool) (*Result, *Stream, error) {
	name := pt.tier.Name
	var lastErr error
	for attempt := 0; attempt <= pt.retry.MaxRetries; attempt++ {
		timer := e.tracker.BeginAttempt(name)
		start := time.Now()
		resp, body, err := e.dispatch(ctx, pt, req, stream)
		if err == nil {
			timer.Success()
			e.tracker.MarkSuccess(name)
			metrics.TierAttemptsTotal.WithLabelValues(name, "success").Inc()
			metrics.AttemptLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
			e.publishEwma(name)
			if stream {
				return nil, e.newStream(cfg, pt, body), nil
			}
			return &Result{Response: resp, Tier: name, Route: pt.tier.Route}, nil, nil
		}
		lastErr = err

		switch {
		case perrors.IsCancelled(err):
			timer.Discard()
			metrics.TierAttemptsTotal.WithLabelValues(name, "cancelled").Inc()
			return nil, nil, err

		case perrors.IsRateLimited(err):
			// The cooldown is the penalty; the elapsed time of a 429 says
			// nothing about the tier's latency.
			timer.Discard()
			pe, _ := perrors.AsProxyError(err)
			e.tracker.MarkRateLimited(name, pe.RetryAfter)
			metrics.TierAttemptsTotal.WithLabelValues(name, "rate_limited").Inc()
			metrics.RateLimitBackoffsTotal.WithLabelValues(name).Inc()
			e.logger.Warn("tier rate limited", "tier", name, "retry_after", pe.RetryAfter)
			return nil, nil, err

		case perrors.IsRetryable(err):
			timer.Failure()
			metrics.TierAttemptsTotal.WithLabelValues(name, "retryable_error").Inc()
			e.publishEwma(name)
			e.logger.Warn("tier attempt failed", "tier", name, "attempt", attempt, "error", err)
			if attempt < pt.retry.MaxRetries {
				ewma, _, _ := e.tracker.Latency(name)
				delay := pt.retry.Backoff(attempt, ewma)
				select {
				case <-ctx.Done():
					return nil, nil, perrors.NewCancelledError("client cancelled during backoff")
				case <-time.After(delay):
				}
			}

		default:
			// Non-retryable 4xx: the request is at fault for this tier, not
			// the tier's health. Advance without an EWMA penalty.
			timer.Discard()
			metrics.TierAttemptsTotal.WithLabelValues(name, "client_error").Inc()
			e.logger.Warn("tier rejected request", "tier", name, "error", err)
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}

func (e *Executor) publishEwma(tier string) {
	if ewma, _, ok := e.tracker.Latency(tier); ok {
		metrics.TierEwmaMS.WithLabelValues(tier).Set(ewma)
	}
}

func tierList(plan []plannedTier) []routing.Tier {
	out := make([]routing.Tier, len(plan))
	for i := range plan {
		out[i] = plan[i].tier
	}
	return out
}
