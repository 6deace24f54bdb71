package engine

import (
	"context"
	"sort"

	"github.com/warp/material-engine/logger"
)

// =============================================================================
// RULE INDEX - In-memory cache of active rules
// =============================================================================

// RuleKey is the composite index key.
type RuleKey struct {
	ComponentID string
	Dimension   Dimension
}

// RuleIndex maps (component, dimension) to rules sorted by ascending priority.
// It is read-only once built and may be shared by reference.
type RuleIndex map[RuleKey][]Rule

// NewRuleIndex indexes the active rules among rules.
func NewRuleIndex(rules ...Rule) RuleIndex {
	idx := make(RuleIndex)
	for _, r := range rules {
		if !r.IsActive || r.ComponentID == "" {
			continue
		}
		k := RuleKey{ComponentID: r.ComponentID, Dimension: r.Dimension}
		idx[k] = append(idx[k], r)
	}
	for k := range idx {
		sortByPriority(idx[k])
	}
	return idx
}

// LoadRuleIndex reads active rules from src. A failing source yields an empty
// index: adjustments become no-ops instead of blocking the editing session.
func LoadRuleIndex(ctx context.Context, src RuleSource, log *logger.Logger) RuleIndex {
	log = logger.OrNop(log)
	if src == nil {
		log.Warn("no rule source configured, material adjustments disabled")
		return RuleIndex{}
	}
	rules, err := src.ListActiveRules(ctx)
	if err != nil {
		log.Warn("failed to load adjustment rules, continuing without them", "error", err)
		return RuleIndex{}
	}
	idx := NewRuleIndex(rules...)
	log.Debug("adjustment rules loaded", "rules", len(rules), "keys", len(idx))
	return idx
}

// Lookup returns the rules for a component and dimension. The slice must not
// be modified.
func (idx RuleIndex) Lookup(componentID string, dim Dimension) []Rule {
	if idx == nil {
		return nil
	}
	return idx[RuleKey{ComponentID: componentID, Dimension: dim}]
}

// HasRules reports whether any rule mentions the component.
func (idx RuleIndex) HasRules(componentID string) bool {
	for _, dim := range Dimensions {
		if len(idx.Lookup(componentID, dim)) > 0 {
			return true
		}
	}
	return false
}

// Len returns the number of indexed rules.
func (idx RuleIndex) Len() int {
	n := 0
	for _, rules := range idx {
		n += len(rules)
	}
	return n
}

func sortByPriority(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}
