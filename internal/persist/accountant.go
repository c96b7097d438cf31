package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ferryman-dev/ferryman/pkg/types"
)

// Accountant aggregates per-tier token usage in memory and, when a store is
// attached, mirrors increments into Redis so totals survive restarts. A nil
// store keeps accounting memory-only.
type Accountant struct {
	mu     sync.Mutex
	totals map[string]types.Usage

	store  *Store
	logger *slog.Logger
}

// NewAccountant creates an accountant. store and logger may be nil.
func NewAccountant(store *Store, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		totals: make(map[string]types.Usage),
		store:  store,
		logger: logger,
	}
}

// Restore seeds the in-memory totals from the store. Without a store it is a
// no-op.
func (a *Accountant) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	persisted, err := a.store.LoadTokens(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for tier, usage := range persisted {
		a.totals[tier] = usage
	}
	return nil
}

// Record folds one request's usage into the tier total.
func (a *Accountant) Record(tier string, usage types.Usage) {
	a.mu.Lock()
	total := a.totals[tier]
	total.Add(usage)
	a.totals[tier] = total
	a.mu.Unlock()

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.store.AddTokens(ctx, tier, usage); err != nil {
			a.logger.Warn("token counter persist failed", "tier", tier, "error", err)
		}
	}
}

// Totals returns a copy of the per-tier usage totals.
func (a *Accountant) Totals() map[string]types.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]types.Usage, len(a.totals))
	for tier, usage := range a.totals {
		out[tier] = usage
	}
	return out
}
