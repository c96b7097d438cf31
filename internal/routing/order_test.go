package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routes(tiers []Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = t.Name
	}
	return out
}

func threeTiers() []Tier {
	return []Tier{
		{Route: "alpha,model-a", Name: "alpha"},
		{Route: "beta,model-b", Name: "beta"},
		{Route: "gamma,model-c", Name: "gamma"},
	}
}

func warm(tr *Tracker, tier string, ms float64) {
	for i := 0; i < DefaultMinSamples; i++ {
		tr.RecordSuccess(tier, ms)
	}
}

func TestOrderConfiguredWhenCold(t *testing.T) {
	tr := NewTracker()
	got := tr.Order(threeTiers(), "", false)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, routes(got))
}

func TestOrderByEwmaWhenMeasured(t *testing.T) {
	tr := NewTracker()
	warm(tr, "alpha", 900)
	warm(tr, "beta", 100)
	warm(tr, "gamma", 500)

	got := tr.Order(threeTiers(), "", false)
	assert.Equal(t, []string{"beta", "gamma", "alpha"}, routes(got))
}

func TestOrderUnmeasuredKeepsConfiguredPosition(t *testing.T) {
	tr := NewTracker()
	warm(tr, "alpha", 900)
	warm(tr, "gamma", 100)
	// beta has fewer than minSamples observations.
	tr.RecordSuccess("beta", 1)

	got := tr.Order(threeTiers(), "", false)
	// Measured tiers swap among their own slots; beta stays second.
	assert.Equal(t, []string{"gamma", "beta", "alpha"}, routes(got))
}

func TestOrderThrottledTiersMoveLast(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))
	warm(tr, "alpha", 100)
	warm(tr, "beta", 200)
	warm(tr, "gamma", 300)
	tr.MarkRateLimited("alpha", 30*time.Second)

	got := tr.Order(threeTiers(), "", false)
	assert.Equal(t, []string{"beta", "gamma", "alpha"}, routes(got))
}

func TestOrderHoistsRequestedRoute(t *testing.T) {
	tr := NewTracker()
	warm(tr, "alpha", 100)
	warm(tr, "beta", 200)
	warm(tr, "gamma", 300)

	got := tr.Order(threeTiers(), "gamma,model-c", true)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, routes(got))
}

func TestOrderHoistDisabled(t *testing.T) {
	tr := NewTracker()
	got := tr.Order(threeTiers(), "gamma,model-c", false)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, routes(got))
}

func TestOrderHoistUnknownRouteIsNoop(t *testing.T) {
	tr := NewTracker()
	got := tr.Order(threeTiers(), "delta,nope", true)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, routes(got))
}

func TestOrderHoistAppliesAfterThrottlePartition(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))
	tr.MarkRateLimited("gamma", 30*time.Second)

	// A directly-routed tier is tried first even while in cooldown.
	got := tr.Order(threeTiers(), "gamma,model-c", true)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, routes(got))
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	tr := NewTracker()
	warm(tr, "alpha", 900)
	warm(tr, "beta", 100)
	warm(tr, "gamma", 500)

	in := threeTiers()
	_ = tr.Order(in, "", false)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, routes(in))
}
