package engine_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func num(s string) decimal.NullDecimal {
	return engine.Some(dec(s))
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		t.Errorf("expected %s, got %s %v", want, got.String(), msgAndArgs)
	}
}

// areaRule builds a percentage-threshold, percentage-adjustment area rule.
func areaRule(id, componentID string, dir engine.Direction, threshold, adjustment string) engine.Rule {
	return engine.Rule{
		ID:              id,
		ComponentID:     componentID,
		Dimension:       engine.DimensionArea,
		ChangeDirection: dir,
		ChangeType:      engine.MeasurePercentage,
		ChangeValue:     dec(threshold),
		AdjustmentType:  engine.MeasurePercentage,
		AdjustmentValue: dec(adjustment),
		IsActive:        true,
	}
}

func component(id, perUnit, unitPrice string) engine.ComponentLine {
	return engine.ComponentLine{
		ComponentID:      id,
		Name:             id,
		Unit:             "pcs",
		UnitPrice:        dec(unitPrice),
		Quantity:         dec(perUnit),
		TotalPrice:       dec(perUnit).Mul(dec(unitPrice)),
		BaselineQuantity: num(perUnit),
	}
}

// panelLine is a 2000mm x 1000mm panel, quantity 1, area 2.0 m².
func panelLine(components ...engine.ComponentLine) engine.LineItem {
	l := engine.LineItem{
		ID:         "line-1",
		ProductID:  "panel",
		CategoryID: "panels",
		Length:     num("2000"),
		Height:     num("1000"),
		Quantity:   dec("1"),
		UnitPrice:  dec("50"),
		Components: components,
	}
	return engine.RecalculateTotals(engine.DeriveDimensions(l))
}

func nan() float64 { return math.NaN() }
func inf() float64 { return math.Inf(1) }
