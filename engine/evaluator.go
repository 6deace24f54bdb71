package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE - Measured difference between a baseline and a current value
// =============================================================================

type Change struct {
	Dimension  Dimension
	Direction  Direction
	Percentage decimal.Decimal // 0 when the baseline is not positive
	Absolute   decimal.Decimal
}

// ComputeChange measures new against old. The second result is false when
// either side is absent or they are equal; such a change never adjusts.
func ComputeChange(dim Dimension, old, new decimal.NullDecimal) (Change, bool) {
	if !old.Valid || !new.Valid || old.Decimal.Equal(new.Decimal) {
		return Change{}, false
	}
	abs := new.Decimal.Sub(old.Decimal)
	pct := decimal.Zero
	if old.Decimal.IsPositive() {
		pct = abs.Div(old.Decimal).Mul(hundred)
	}
	dir := DirectionDecrease
	if abs.IsPositive() {
		dir = DirectionIncrease
	}
	return Change{Dimension: dim, Direction: dir, Percentage: pct, Absolute: abs}, true
}

// =============================================================================
// RULE EVALUATION
// =============================================================================

// IsInverseRule reports whether a rule fires on increase while applying a
// reduction. The legacy encoding is direction=decrease with a negative
// adjustment value; Inverse states it explicitly.
func IsInverseRule(r Rule) bool {
	return r.Inverse || (r.ChangeDirection == DirectionDecrease && r.AdjustmentValue.IsNegative())
}

// IsApplicable runs the direction and threshold checks. Thresholds are
// inclusive.
func IsApplicable(r Rule, dir Direction, pct, abs decimal.Decimal) bool {
	if IsInverseRule(r) {
		if dir != DirectionIncrease {
			return false
		}
	} else if r.ChangeDirection != DirectionBoth && r.ChangeDirection != dir {
		return false
	}

	threshold := r.ChangeValue.Abs()
	switch r.ChangeType {
	case MeasurePercentage:
		return pct.Abs().GreaterThanOrEqual(threshold)
	case MeasureAbsolute:
		return abs.Abs().GreaterThanOrEqual(threshold)
	default:
		return false
	}
}

// AllowsCategory applies a rule's category restriction.
func AllowsCategory(r Rule, categoryID string) bool {
	if len(r.AllowedCategoryIDs) == 0 {
		return true
	}
	for _, id := range r.AllowedCategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

// ApplicableRules filters candidates for a line's category and a change.
func ApplicableRules(candidates []Rule, categoryID string, c Change) []Rule {
	var out []Rule
	for _, r := range candidates {
		if !AllowsCategory(r, categoryID) {
			continue
		}
		if IsApplicable(r, c.Direction, c.Percentage, c.Absolute) {
			out = append(out, r)
		}
	}
	return out
}
