package engine_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/engine"
)

// TestAdjust_NeverNegativeProperty verifies no rule sequence drives a quantity below zero.
// Property: Adjust(c, rules).Quantity >= 0 for any rules
func TestAdjust_NeverNegativeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("adjusted quantity is never negative", prop.ForAll(
		func(perUnit, parent float64, values []float64, absolute bool) bool {
			rules := make([]engine.Rule, len(values))
			for i, v := range values {
				rules[i] = engine.Rule{AdjustmentType: engine.MeasurePercentage, AdjustmentValue: decimal.NewFromFloat(v), Priority: i}
				if absolute {
					rules[i].AdjustmentType = engine.MeasureAbsolute
				}
			}
			c := engine.ComponentLine{
				ComponentID:      "c",
				UnitPrice:        decimal.NewFromInt(1),
				BaselineQuantity: engine.Some(decimal.NewFromFloat(perUnit)),
			}
			got, err := engine.Adjust(c, rules, decimal.NewFromFloat(parent), engine.DirectionIncrease)
			if err != nil {
				return false
			}
			return !got.Quantity.IsNegative()
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0.5, 50),
		gen.SliceOf(gen.Float64Range(-300, 300)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestComputeDimensionAdjustment_IdempotentProperty verifies repeated passes do not compound.
// Property: f(f(line)) == f(line) for a fixed (old, new) pair
func TestComputeDimensionAdjustment_IdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("second pass yields the same quantities", prop.ForAll(
		func(newArea, adjustment, threshold float64) bool {
			rule := engine.Rule{
				ID:              "r",
				ComponentID:     "frame",
				Dimension:       engine.DimensionArea,
				ChangeDirection: engine.DirectionBoth,
				ChangeType:      engine.MeasurePercentage,
				ChangeValue:     decimal.NewFromFloat(threshold),
				AdjustmentType:  engine.MeasurePercentage,
				AdjustmentValue: decimal.NewFromFloat(adjustment),
				IsActive:        true,
			}
			idx := engine.NewRuleIndex(rule)
			line := engine.SetManualArea(panelLine(component("frame", "1.5", "3")), engine.Some(decimal.NewFromFloat(newArea)))
			old := engine.BaselineOf(line, engine.DimensionArea)

			once := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, old, line.Area, idx)
			twice := engine.ComputeDimensionAdjustment(once, engine.DimensionArea, old, once.Area, idx)
			return once.Components[0].Quantity.Equal(twice.Components[0].Quantity) &&
				once.TotalPrice.Equal(twice.TotalPrice)
		},
		gen.Float64Range(0.1, 20),
		gen.Float64Range(-90, 200),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
