package routing

import "sort"

// Order returns the tier attempt sequence for one request.
//
// Measured tiers (at least minSamples observations) are sorted by ascending
// EWMA among themselves; tiers still below minSamples keep their configured
// position so a cold tier is neither promoted nor demoted on noise. Tiers in
// a rate-limit or quota cooldown are then moved to the back, preserving
// relative order, so they are tried only after every available tier failed.
// Finally, when requestedRoute names a configured tier and hoisting is
// enabled, that tier moves to the front.
//
// The input slice is never mutated.
func (t *Tracker) Order(tiers []Tier, requestedRoute string, hoistDirect bool) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)

	t.mu.RLock()
	type measured struct {
		slot int
		ewma float64
	}
	var slots []measured
	for i, tier := range out {
		s, ok := t.tiers[tier.Name]
		if ok && s.Samples >= t.minSamples {
			slots = append(slots, measured{slot: i, ewma: s.EwmaMS})
		}
	}
	t.mu.RUnlock()

	if len(slots) > 1 {
		// Redistribute only the measured tiers across the slots they
		// already occupy, ordered by latency.
		occupants := make([]Tier, len(slots))
		for i, m := range slots {
			occupants[i] = out[m.slot]
		}
		order := make([]int, len(slots))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return slots[order[a]].ewma < slots[order[b]].ewma
		})
		for i, m := range slots {
			out[m.slot] = occupants[order[i]]
		}
	}

	// Stable partition: available tiers first, throttled tiers last.
	available := out[:0:0]
	var throttled []Tier
	for _, tier := range out {
		if t.ShouldSkip(tier.Name) {
			throttled = append(throttled, tier)
		} else {
			available = append(available, tier)
		}
	}
	out = append(available, throttled...)

	if hoistDirect && requestedRoute != "" {
		for i, tier := range out {
			if tier.Route == requestedRoute {
				hoisted := out[i]
				copy(out[1:i+1], out[:i])
				out[0] = hoisted
				break
			}
		}
	}
	return out
}
