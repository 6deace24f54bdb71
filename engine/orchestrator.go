package engine

import (
	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/logger"
)

// =============================================================================
// ADJUSTER - Runs rule passes over a line's components
// =============================================================================

// Adjuster binds a rule index to the per-line adjustment passes.
type Adjuster struct {
	Index RuleIndex
	Log   *logger.Logger
}

// NewAdjuster creates an adjuster. A nil logger discards output.
func NewAdjuster(idx RuleIndex, log *logger.Logger) *Adjuster {
	return &Adjuster{Index: idx, Log: logger.OrNop(log)}
}

// ComputeDimensionAdjustment is the stateless entry point: one dimension of
// one line changed from old to new under the given rules.
func ComputeDimensionAdjustment(l LineItem, dim Dimension, old, new decimal.NullDecimal, idx RuleIndex) LineItem {
	return NewAdjuster(idx, nil).ApplyMaterialAdjustmentRules(l, dim, old, new)
}

// ApplyMaterialAdjustmentRules rescales the line's components for one
// dimension change, then recomputes the line total.
//
// Nothing happens when either value is absent or they are equal. A component
// whose adjustment fails is kept as it was; the others still adjust.
func (a *Adjuster) ApplyMaterialAdjustmentRules(l LineItem, dim Dimension, old, new decimal.NullDecimal) LineItem {
	change, ok := ComputeChange(dim, old, new)
	if !ok || len(l.Components) == 0 {
		return l
	}
	return a.adjustLine(l, []Change{change}, false)
}

// ApplyAll is the explicit "apply now" pass for one line. Every dimension is
// measured against its baseline. Components that have any rule are first
// rebased to baseline × quantity, then the applicable rules of all changed
// dimensions run together in priority order, so one dimension's rules never
// erase another's.
func (a *Adjuster) ApplyAll(l LineItem) LineItem {
	var changes []Change
	for _, dim := range Dimensions {
		if c, ok := ComputeChange(dim, BaselineOf(l, dim), ValueOf(l, dim)); ok {
			changes = append(changes, c)
		}
	}
	return a.adjustLine(l, changes, true)
}

func (a *Adjuster) adjustLine(l LineItem, changes []Change, rebase bool) LineItem {
	log := logger.OrNop(a.Log)
	out := l.Clone()

	for i, c := range out.Components {
		if c.ComponentID == "" {
			continue
		}

		var rules []Rule
		dir := DirectionIncrease
		for _, ch := range changes {
			applicable := ApplicableRules(a.Index.Lookup(c.ComponentID, ch.Dimension), out.CategoryID, ch)
			if len(applicable) > 0 {
				rules = append(rules, applicable...)
				dir = ch.Direction
			}
		}

		if rebase && a.Index.HasRules(c.ComponentID) {
			rebased, err := rebaseComponent(c, out.Quantity)
			if err != nil {
				log.Warn("component rebase failed, keeping current quantity",
					"line_id", out.ID, "component_id", c.ComponentID, "error", err)
				continue
			}
			c = rebased
		}

		if len(rules) == 0 {
			out.Components[i] = c
			continue
		}

		adjusted, err := Adjust(c, rules, out.Quantity, dir)
		if err != nil {
			log.Warn("material adjustment failed, keeping component unchanged",
				"line_id", out.ID, "component_id", c.ComponentID, "error", err)
			continue
		}
		log.Debug("component adjusted",
			"line_id", out.ID,
			"component_id", c.ComponentID,
			"rules", len(rules),
			"from", c.Quantity.String(),
			"to", adjusted.Quantity.String(),
		)
		out.Components[i] = adjusted
	}

	return RecalculateTotals(out)
}

func rebaseComponent(c ComponentLine, parentQuantity decimal.Decimal) (ComponentLine, error) {
	perUnit, err := BaselinePerUnit(c, parentQuantity)
	if err != nil {
		return c, err
	}
	c.BaselineQuantity = Some(perUnit)
	c.Quantity = perUnit.Mul(parentQuantity)
	c.TotalPrice = c.Quantity.Mul(c.UnitPrice)
	return c, nil
}
