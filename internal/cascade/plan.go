package cascade

import (
	"strings"

	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/protocol"
	"github.com/ferryman-dev/ferryman/internal/routing"
	"github.com/ferryman-dev/ferryman/internal/transform"
	perrors "github.com/ferryman-dev/ferryman/pkg/errors"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// plannedTier is one fully-resolved cascade position: the tier identity plus
// everything needed to dispatch to it.
type plannedTier struct {
	tier     routing.Tier
	provider *config.ProviderConfig
	model    string
	retry    config.RetryPolicy
	adapter  protocol.Adapter
	chain    *transform.Chain
}

// plan resolves the ordered attempt sequence for one request. The returned
// hoisted route is non-empty when direct routing or long-context routing
// pinned a tier to the front.
func (e *Executor) plan(cfg *config.Config, req *types.Request) ([]plannedTier, string, error) {
	requested := ""
	if strings.Contains(req.Model, ",") && !cfg.Router.IgnoreDirectRouting {
		if _, _, err := cfg.ResolveTier(req.Model); err != nil {
			return nil, "", perrors.NewRouteResolutionError(err.Error())
		}
		requested = req.Model
	}
	if requested == "" && cfg.Router.LongContextRoute != "" && cfg.Router.LongContextTokens > 0 &&
		estimateInputTokens(req) > cfg.Router.LongContextTokens {
		requested = cfg.Router.LongContextRoute
	}

	tiers := make([]routing.Tier, 0, len(cfg.Router.Tiers)+1)
	byRoute := make(map[string]config.TierConfig, len(cfg.Router.Tiers)+1)
	for _, tc := range cfg.Router.Tiers {
		tiers = append(tiers, routing.Tier{Route: tc.Route, Name: tc.Name})
		byRoute[tc.Route] = tc
	}
	// A requested route outside the configured cascade becomes a synthetic
	// tier keyed by its route string, so it still accrues EWMA state.
	if requested != "" {
		if _, configured := byRoute[requested]; !configured {
			tiers = append(tiers, routing.Tier{Route: requested, Name: requested})
			byRoute[requested] = config.TierConfig{Name: requested, Route: requested}
		}
	}

	ordered := e.tracker.Order(tiers, requested, requested != "")
	plan := make([]plannedTier, 0, len(ordered))
	for _, tier := range ordered {
		provider, model, err := cfg.ResolveTier(tier.Route)
		if err != nil {
			// Validation guarantees resolvable tiers; a hot-reload race can
			// briefly leave a stale one. Skip it.
			e.logger.Warn("skipping unresolvable tier", "route", tier.Route, "error", err)
			continue
		}
		adapter, err := protocol.ForDialect(provider.Dialect)
		if err != nil {
			e.logger.Warn("skipping tier with unknown dialect", "route", tier.Route, "error", err)
			continue
		}
		chain, err := e.registry.BuildChain(chainEntries(provider.ChainFor(model)))
		if err != nil {
			return nil, "", perrors.NewConfigError("transformer chain for " + tier.Route + ": " + err.Error())
		}
		plan = append(plan, plannedTier{
			tier:     tier,
			provider: provider,
			model:    model,
			retry:    cfg.TierRetry(byRoute[tier.Route]),
			adapter:  adapter,
			chain:    chain,
		})
	}
	return plan, requested, nil
}

func chainEntries(entries []config.TransformerEntry) []transform.ChainEntry {
	out := make([]transform.ChainEntry, len(entries))
	for i, e := range entries {
		out[i] = transform.ChainEntry{Name: e.Name, Options: e.Options}
	}
	return out
}

// estimateInputTokens approximates the prompt size at four characters per
// token, enough precision for the long-context routing threshold.
func estimateInputTokens(req *types.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	for _, t := range req.Tools {
		chars += len(t)
	}
	return chars / 4
}
