package routing

import "time"

// AttemptTimer scopes one upstream attempt. Exactly one of Success, Failure,
// or Discard must be called; Discard leaves the EWMA untouched (used for
// client cancellation, where elapsed time says nothing about the backend).
type AttemptTimer struct {
	tracker *Tracker
	tier    string
	start   time.Time
	done    bool
}

// BeginAttempt starts timing an attempt against the named tier.
func (t *Tracker) BeginAttempt(tier string) *AttemptTimer {
	return &AttemptTimer{tracker: t, tier: tier, start: t.now()}
}

// Success records the elapsed time as a latency sample.
func (a *AttemptTimer) Success() {
	if a.done {
		return
	}
	a.done = true
	elapsed := a.tracker.now().Sub(a.start)
	a.tracker.RecordSuccess(a.tier, float64(elapsed)/float64(time.Millisecond))
}

// Failure records the failure penalty for the tier.
func (a *AttemptTimer) Failure() {
	if a.done {
		return
	}
	a.done = true
	a.tracker.RecordFailure(a.tier)
}

// Discard drops the attempt without touching the EWMA.
func (a *AttemptTimer) Discard() {
	a.done = true
}
