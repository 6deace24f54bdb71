package engine

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// =============================================================================
// QUANTITY ADJUSTER
// =============================================================================

// Adjust recomputes a component's quantity from its baseline under rules.
//
// The starting point is always baselineQuantity × parentQuantity, never the
// live quantity, so running the same pass twice gives the same result. Rules
// run in ascending priority; each one is clamped against its own cap, measured
// from the original quantity. The result is never negative.
//
// dir is the change that selected the rules; it does not alter the arithmetic.
// With no rules the component is returned unchanged.
func Adjust(c ComponentLine, rules []Rule, parentQuantity decimal.Decimal, dir Direction) (ComponentLine, error) {
	if len(rules) == 0 {
		return c, nil
	}

	perUnit, err := BaselinePerUnit(c, parentQuantity)
	if err != nil {
		return c, err
	}
	original := perUnit.Mul(parentQuantity)

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sortByPriority(ordered)

	adjusted := original
	for _, r := range ordered {
		switch r.AdjustmentType {
		case MeasurePercentage:
			adjusted = adjusted.Mul(one.Add(r.AdjustmentValue.Div(hundred)))
		case MeasureAbsolute:
			adjusted = adjusted.Add(r.AdjustmentValue)
		default:
			return c, &RuleError{RuleID: r.ID, ComponentID: c.ComponentID, Err: ErrUnknownAdjustmentType}
		}
		adjusted = clampToCap(r, original, adjusted)
	}

	if adjusted.IsNegative() {
		adjusted = decimal.Zero
	}

	out := c
	out.BaselineQuantity = Some(perUnit)
	out.Quantity = adjusted
	out.TotalPrice = adjusted.Mul(c.UnitPrice)
	return out, nil
}

// BaselinePerUnit returns the recorded per-unit quantity, or infers it from the
// live quantity when none was captured.
func BaselinePerUnit(c ComponentLine, parentQuantity decimal.Decimal) (decimal.Decimal, error) {
	if c.BaselineQuantity.Valid {
		return c.BaselineQuantity.Decimal, nil
	}
	if !parentQuantity.IsPositive() {
		return decimal.Zero, ErrInvalidParentQuantity
	}
	return c.Quantity.Div(parentQuantity), nil
}

// clampToCap limits the distance between adjusted and original. Percentage
// rules honor MaxAdjustmentPercentage, absolute rules MaxAdjustmentValue.
func clampToCap(r Rule, original, adjusted decimal.Decimal) decimal.Decimal {
	var limit decimal.Decimal
	switch {
	case r.AdjustmentType == MeasurePercentage && r.MaxAdjustmentPercentage.Valid:
		limit = original.Abs().Mul(r.MaxAdjustmentPercentage.Decimal.Abs()).Div(hundred)
	case r.AdjustmentType == MeasureAbsolute && r.MaxAdjustmentValue.Valid:
		limit = r.MaxAdjustmentValue.Decimal.Abs()
	default:
		return adjusted
	}

	delta := adjusted.Sub(original)
	if delta.Abs().LessThanOrEqual(limit) {
		return adjusted
	}
	if delta.IsNegative() {
		return original.Sub(limit)
	}
	return original.Add(limit)
}
