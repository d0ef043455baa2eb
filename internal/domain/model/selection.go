package model

import (
	"context"
	"sort"
)

// MatchesCriteria reports whether the model satisfies every set clause of
// the criteria. An empty criteria matches any model.
//
// The two zero-value rules differ on purpose: a model with unknown context
// length cannot prove it satisfies MinContextLength and is excluded, while a
// model with unknown input cost is not disqualified by MaxInputCost because
// a missing price is not evidence of being expensive.
func MatchesCriteria(m *Model, c Criteria) bool {
	for _, capability := range c.Capabilities {
		if !m.HasCapability(capability) {
			return false
		}
	}

	if len(c.AdapterKinds) > 0 {
		if m.Provider == nil {
			return false
		}
		found := false
		for _, kind := range c.AdapterKinds {
			if string(m.Provider.AdapterKind) == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if c.MinContextLength > 0 && m.ContextLength() < c.MinContextLength {
		return false
	}

	if c.MaxInputCost > 0 && m.InputCost > 0 && m.InputCost > c.MaxInputCost {
		return false
	}

	return true
}

// FindCandidates returns every active model matching the criteria, in input
// order, without ranking.
func FindCandidates(models []*Model, c Criteria) []*Model {
	candidates := make([]*Model, 0, len(models))
	for _, m := range models {
		if m == nil || !m.Active {
			continue
		}
		if MatchesCriteria(m, c) {
			candidates = append(candidates, m)
		}
	}
	return candidates
}

// FindMatchingModel returns the best matching model or nil when nothing
// matches. Ranking applies four keys in strict precedence:
//
//  1. owning provider priority, higher first
//  2. combined input+output cost, lower first, only when PreferLowCost
//  3. the model default flag, defaults first
//  4. configured sort order, lower first
//
// Without PreferLowCost, price never influences the outcome. The sort is
// stable, so models equal under all keys keep their catalog order.
func FindMatchingModel(models []*Model, c Criteria) *Model {
	candidates := FindCandidates(models, c)
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if a.ProviderPriority() != b.ProviderPriority() {
			return a.ProviderPriority() > b.ProviderPriority()
		}

		if c.PreferLowCost && a.TotalCost() != b.TotalCost() {
			return a.TotalCost() < b.TotalCost()
		}

		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}

		return a.SortOrder < b.SortOrder
	})

	return candidates[0]
}

// ResolveModel resolves the model a configuration should run on. Fixed mode
// returns the bound model as-is, nil included; criteria mode ranks the
// store's active catalog. A nil result means no model is assigned, which the
// caller turns into an error carrying the configuration ID.
func ResolveModel(ctx context.Context, store Store, cfg *Configuration) (*Model, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Mode {
	case SelectionModeFixed:
		return cfg.Model, nil
	case SelectionModeCriteria:
		models, err := store.ActiveModels(ctx)
		if err != nil {
			return nil, err
		}
		return FindMatchingModel(models, cfg.Criteria), nil
	default:
		return nil, nil
	}
}
