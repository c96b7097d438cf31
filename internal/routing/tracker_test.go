package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRecordSuccessSeedsAndSmooths(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("fast", 100)

	ewma, samples, ok := tr.Latency("fast")
	require.True(t, ok)
	assert.Equal(t, 100.0, ewma)
	assert.Equal(t, uint64(1), samples)

	tr.RecordSuccess("fast", 200)
	ewma, samples, _ = tr.Latency("fast")
	// 0.2*200 + 0.8*100
	assert.InDelta(t, 120.0, ewma, 1e-9)
	assert.Equal(t, uint64(2), samples)
}

func TestRecordFailureAppliesPenalty(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("flaky", 400)
	tr.RecordFailure("flaky")

	ewma, _, _ := tr.Latency("flaky")
	// penalty = 2*max(400, 1000) = 2000; 0.2*2000 + 0.8*400
	assert.InDelta(t, 720.0, ewma, 1e-9)
}

func TestFailurePenaltyNeverCheaperThanBaseline(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("quick", 5)
	before, _, _ := tr.Latency("quick")
	tr.RecordFailure("quick")
	after, _, _ := tr.Latency("quick")
	assert.Greater(t, after, before)
}

func TestMarkRateLimitedScalesWithConsecutiveHits(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))

	tr.MarkRateLimited("busy", 0)
	s := tr.Snapshot()["busy"]
	assert.Equal(t, now.Add(time.Second), s.RateLimitUntil)

	tr.MarkRateLimited("busy", 0)
	s = tr.Snapshot()["busy"]
	assert.Equal(t, now.Add(2*time.Second), s.RateLimitUntil)

	tr.MarkRateLimited("busy", 0)
	s = tr.Snapshot()["busy"]
	assert.Equal(t, now.Add(4*time.Second), s.RateLimitUntil)
}

func TestMarkRateLimitedCapsAtOneMinute(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))

	for i := 0; i < 10; i++ {
		tr.MarkRateLimited("busy", 0)
	}
	s := tr.Snapshot()["busy"]
	assert.Equal(t, now.Add(60*time.Second), s.RateLimitUntil)
}

func TestMarkRateLimitedHonorsRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))

	tr.MarkRateLimited("busy", 5*time.Second)
	s := tr.Snapshot()["busy"]
	assert.Equal(t, now.Add(5*time.Second), s.RateLimitUntil)
}

func TestMarkSuccessClearsCooldown(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))

	tr.MarkRateLimited("busy", 10*time.Second)
	require.True(t, tr.ShouldSkip("busy"))

	tr.MarkSuccess("busy")
	assert.False(t, tr.ShouldSkip("busy"))
	assert.Zero(t, tr.Snapshot()["busy"].ConsecutiveRateHits)
}

func TestShouldSkipExpires(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))
	tr.MarkRateLimited("busy", 3*time.Second)
	require.True(t, tr.ShouldSkip("busy"))

	tr.setNow(fixedClock(now.Add(4 * time.Second)))
	assert.False(t, tr.ShouldSkip("busy"))
}

func TestShouldSkipQuotaExhausted(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))
	tr.MarkQuotaExhausted("over", now.Add(time.Hour))
	assert.True(t, tr.ShouldSkip("over"))

	tr.setNow(fixedClock(now.Add(2 * time.Hour)))
	assert.False(t, tr.ShouldSkip("over"))
}

func TestEarliestAvailable(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tiers := []Tier{{Route: "a,m", Name: "a"}, {Route: "b,m", Name: "b"}}

	tr := NewTracker()
	tr.setNow(fixedClock(now))

	// Untracked tiers are available now.
	assert.True(t, tr.EarliestAvailable(tiers).IsZero())

	tr.MarkRateLimited("a", 10*time.Second)
	assert.True(t, tr.EarliestAvailable(tiers).IsZero())

	tr.MarkRateLimited("b", 30*time.Second)
	assert.Equal(t, now.Add(10*time.Second), tr.EarliestAvailable(tiers))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("a", 150)
	tr.RecordSuccess("a", 250)

	snap := tr.Snapshot()
	fresh := NewTracker()
	for name, s := range snap {
		fresh.Restore(name, s.EwmaMS, s.Samples)
	}

	ewma, samples, ok := fresh.Latency("a")
	require.True(t, ok)
	assert.InDelta(t, snap["a"].EwmaMS, ewma, 1e-9)
	assert.Equal(t, uint64(2), samples)
}

func TestAttemptTimerSuccessFeedsEwma(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.setNow(fixedClock(now))

	timer := tr.BeginAttempt("a")
	tr.setNow(fixedClock(now.Add(250 * time.Millisecond)))
	timer.Success()

	ewma, samples, ok := tr.Latency("a")
	require.True(t, ok)
	assert.InDelta(t, 250.0, ewma, 1e-9)
	assert.Equal(t, uint64(1), samples)

	// Second completion on the same timer is a no-op.
	timer.Failure()
	_, samples, _ = tr.Latency("a")
	assert.Equal(t, uint64(1), samples)
}

func TestAttemptTimerDiscardLeavesEwma(t *testing.T) {
	tr := NewTracker()
	timer := tr.BeginAttempt("a")
	timer.Discard()
	_, _, ok := tr.Latency("a")
	assert.False(t, ok)
}
