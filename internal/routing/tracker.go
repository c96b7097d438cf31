// Package routing tracks per-tier latency and rate-limit state and derives
// the tier order for each request. Latency is an exponentially weighted
// moving average of per-attempt time, not total request duration, so the
// estimate reflects backend responsiveness rather than retry loops.
package routing

import (
	"sync"
	"time"
)

const (
	// DefaultAlpha is the EWMA smoothing factor: 20% weight on the new
	// sample, 80% on history.
	DefaultAlpha = 0.2

	// DefaultMinSamples is the number of samples before a tier's EWMA is
	// trusted for reordering. Below it, tiers keep configured order.
	DefaultMinSamples = 3

	// DefaultBaselineMS anchors the failure penalty and backoff scaling.
	DefaultBaselineMS = 1000.0

	// defaultRateLimitCooldown applies when a 429 carries no Retry-After.
	defaultRateLimitCooldown = time.Second

	// maxRateLimitCooldown caps the consecutive-429 exponential scaling.
	maxRateLimitCooldown = 60 * time.Second
)

// Tier is a (route, name) pair: route is the "provider,model" string, name
// the stable tier label used for state keys and metrics.
type Tier struct {
	Route string
	Name  string
}

// TierState is the mutable per-tier record. A zero RateLimitUntil or
// QuotaExhaustedUntil means "not throttled" / "unknown".
type TierState struct {
	EwmaMS              float64
	Samples             uint64
	ConsecutiveFailures int
	ConsecutiveRateHits int
	RateLimitUntil      time.Time
	QuotaExhaustedUntil time.Time
}

// Tracker holds one TierState per tier behind a single lock. Operations are
// O(number of tiers) and short, so one mutex suffices for hundreds of
// concurrent streams.
type Tracker struct {
	mu         sync.RWMutex
	tiers      map[string]*TierState
	alpha      float64
	minSamples uint64
	baselineMS float64
	now        func() time.Time
}

// NewTracker creates a tracker with default parameters.
func NewTracker() *Tracker {
	return NewTrackerWithParams(DefaultAlpha, DefaultMinSamples, DefaultBaselineMS)
}

// NewTrackerWithParams creates a tracker with custom EWMA parameters.
func NewTrackerWithParams(alpha float64, minSamples uint64, baselineMS float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if minSamples == 0 {
		minSamples = 1
	}
	if baselineMS <= 0 {
		baselineMS = DefaultBaselineMS
	}
	return &Tracker{
		tiers:      make(map[string]*TierState),
		alpha:      alpha,
		minSamples: minSamples,
		baselineMS: baselineMS,
		now:        time.Now,
	}
}

func (t *Tracker) state(tier string) *TierState {
	s, ok := t.tiers[tier]
	if !ok {
		s = &TierState{}
		t.tiers[tier] = s
	}
	return s
}

// RecordSuccess folds a successful attempt's elapsed milliseconds into the
// tier's EWMA and clears its failure streak.
func (t *Tracker) RecordSuccess(tier string, elapsedMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(tier)
	if s.Samples == 0 {
		s.EwmaMS = elapsedMS
	} else {
		s.EwmaMS = t.alpha*elapsedMS + (1-t.alpha)*s.EwmaMS
	}
	s.Samples++
	s.ConsecutiveFailures = 0
}

// RecordFailure applies the failure penalty 2·max(ewma, baseline) instead of
// the raw elapsed time, so a fast timeout can never look cheaper than a slow
// success.
func (t *Tracker) RecordFailure(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(tier)
	penalty := 2 * max(s.EwmaMS, t.baselineMS)
	if s.Samples == 0 {
		s.EwmaMS = penalty
	} else {
		s.EwmaMS = t.alpha*penalty + (1-t.alpha)*s.EwmaMS
	}
	s.Samples++
	s.ConsecutiveFailures++
}

// MarkRateLimited puts the tier into cooldown. The cooldown is the upstream
// Retry-After (or a one-second default), scaled 2^n by the consecutive-429
// streak and capped at one minute.
func (t *Tracker) MarkRateLimited(tier string, retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(tier)
	s.ConsecutiveRateHits++

	base := retryAfter
	if base <= 0 {
		base = defaultRateLimitCooldown
	}
	shift := min(s.ConsecutiveRateHits-1, 6)
	cooldown := min(base<<shift, maxRateLimitCooldown)
	s.RateLimitUntil = t.now().Add(cooldown)
}

// MarkQuotaExhausted records an upstream quota-reset hint.
func (t *Tracker) MarkQuotaExhausted(tier string, resetAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state(tier).QuotaExhaustedUntil = resetAt
}

// MarkSuccess clears the tier's rate-limit cooldown and failure streaks.
// Called on any non-error 2xx.
func (t *Tracker) MarkSuccess(tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(tier)
	s.RateLimitUntil = time.Time{}
	s.ConsecutiveRateHits = 0
	s.ConsecutiveFailures = 0
}

// ShouldSkip reports whether the tier is inside a rate-limit or quota
// cooldown window.
func (t *Tracker) ShouldSkip(tier string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.tiers[tier]
	if !ok {
		return false
	}
	now := t.now()
	if !s.RateLimitUntil.IsZero() && now.Before(s.RateLimitUntil) {
		return true
	}
	if !s.QuotaExhaustedUntil.IsZero() && now.Before(s.QuotaExhaustedUntil) {
		return true
	}
	return false
}

// EarliestAvailable returns the soonest moment any of the given tiers leaves
// cooldown, or the zero time when at least one tier is available now.
func (t *Tracker) EarliestAvailable(tiers []Tier) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var earliest time.Time
	for _, tier := range tiers {
		s, ok := t.tiers[tier.Name]
		if !ok {
			return time.Time{}
		}
		until := s.RateLimitUntil
		if s.QuotaExhaustedUntil.After(until) {
			until = s.QuotaExhaustedUntil
		}
		if until.IsZero() || !now.Before(until) {
			return time.Time{}
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	return earliest
}

// Latency returns the tier's EWMA in milliseconds and its sample count.
func (t *Tracker) Latency(tier string) (float64, uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.tiers[tier]
	if !ok {
		return 0, 0, false
	}
	return s.EwmaMS, s.Samples, true
}

// Latencies returns an EWMA-milliseconds snapshot for every tracked tier.
func (t *Tracker) Latencies() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.tiers))
	for name, s := range t.tiers {
		out[name] = s.EwmaMS
	}
	return out
}

// Snapshot copies the full tier state table, used by persistence.
func (t *Tracker) Snapshot() map[string]TierState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]TierState, len(t.tiers))
	for name, s := range t.tiers {
		out[name] = *s
	}
	return out
}

// Restore seeds a tier's EWMA and sample count, used by persistence at
// startup. Cooldown state is intentionally not restored.
func (t *Tracker) Restore(tier string, ewmaMS float64, samples uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(tier)
	s.EwmaMS = max(ewmaMS, 0)
	s.Samples = samples
	s.ConsecutiveFailures = 0
}

// setNow overrides the clock in tests.
func (t *Tracker) setNow(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}
