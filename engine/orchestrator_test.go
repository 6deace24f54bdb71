package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/material-engine/engine"
)

func TestComputeDimensionAdjustment_AreaGrowthTriggersRule(t *testing.T) {
	// GIVEN: 2.0 m² panel with one component at 1 per unit and a +10% rule
	// firing at >= 20% area growth
	line := panelLine(component("frame", "1", "12"))
	idx := engine.NewRuleIndex(areaRule("r1", "frame", engine.DirectionIncrease, "20", "10"))

	// WHEN: Area goes from the 2.0 baseline to 3.0 (+50%)
	line = engine.SetManualArea(line, num("3"))
	got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea,
		engine.BaselineOf(line, engine.DimensionArea), line.Area, idx)

	// THEN: baseline 1 x quantity 1 x 1.10
	require.Len(t, got.Components, 1)
	assertDecimal(t, "1.1", got.Components[0].Quantity)
	assertDecimal(t, "13.2", got.Components[0].TotalPrice)
	assertDecimal(t, "150", got.TotalPrice, "unit price x area")
}

func TestComputeDimensionAdjustment_IsIdempotent(t *testing.T) {
	line := panelLine(component("frame", "1", "12"))
	line = engine.SetManualArea(line, num("3"))
	idx := engine.NewRuleIndex(areaRule("r1", "frame", engine.DirectionIncrease, "20", "10"))

	once := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, line.BaselineArea, line.Area, idx)
	twice := engine.ComputeDimensionAdjustment(once, engine.DimensionArea, once.BaselineArea, once.Area, idx)

	assertDecimal(t, "1.1", once.Components[0].Quantity)
	assert.True(t, once.Components[0].Quantity.Equal(twice.Components[0].Quantity),
		"second pass must not compound: %s vs %s", once.Components[0].Quantity, twice.Components[0].Quantity)
}

func TestComputeDimensionAdjustment_InverseRuleOnIncrease(t *testing.T) {
	line := panelLine(component("labor", "4", "30"))
	line = engine.SetManualArea(line, num("3"))
	idx := engine.NewRuleIndex(areaRule("inv", "labor", engine.DirectionDecrease, "10", "-5"))

	got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)
	assertDecimal(t, "3.8", got.Components[0].Quantity)

	// Shrinking the area does not fire the inverse rule
	shrunk := engine.SetManualArea(panelLine(component("labor", "4", "30")), num("1"))
	got = engine.ComputeDimensionAdjustment(shrunk, engine.DimensionArea, num("2"), num("1"), idx)
	assertDecimal(t, "4", got.Components[0].Quantity)
}

func TestComputeDimensionAdjustment_Noops(t *testing.T) {
	line := panelLine(component("frame", "1", "12"))
	idx := engine.NewRuleIndex(areaRule("r1", "frame", engine.DirectionBoth, "0", "10"))

	tests := []struct {
		name     string
		old, new string
	}{
		{"equal values", "2", "2"},
		{"missing old", "", "3"},
		{"missing new", "2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, new := engine.Null(), engine.Null()
			if tt.old != "" {
				old = num(tt.old)
			}
			if tt.new != "" {
				new = num(tt.new)
			}
			got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, old, new, idx)
			assertDecimal(t, "1", got.Components[0].Quantity)
		})
	}

	// No components: nothing to do
	bare := panelLine()
	got := engine.ComputeDimensionAdjustment(bare, engine.DimensionArea, num("2"), num("3"), idx)
	assert.Empty(t, got.Components)

	// Empty rule index
	got = engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), nil)
	assertDecimal(t, "1", got.Components[0].Quantity)
}

func TestComputeDimensionAdjustment_OnlyMatchingDimension(t *testing.T) {
	line := panelLine(component("frame", "1", "12"))
	rule := areaRule("h", "frame", engine.DirectionIncrease, "10", "25")
	rule.Dimension = engine.DimensionHeight
	idx := engine.NewRuleIndex(rule)

	got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)
	assertDecimal(t, "1", got.Components[0].Quantity, "area change ignores height rules")

	got = engine.ComputeDimensionAdjustment(line, engine.DimensionHeight, num("1000"), num("1200"), idx)
	assertDecimal(t, "1.25", got.Components[0].Quantity)
}

func TestComputeDimensionAdjustment_CategoryRestriction(t *testing.T) {
	line := panelLine(component("frame", "1", "12"))
	rule := areaRule("doors-only", "frame", engine.DirectionIncrease, "0", "10")
	rule.AllowedCategoryIDs = []string{"doors"}
	idx := engine.NewRuleIndex(rule)

	got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)
	assertDecimal(t, "1", got.Components[0].Quantity)

	line.CategoryID = "doors"
	got = engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)
	assertDecimal(t, "1.1", got.Components[0].Quantity)
}

func TestComputeDimensionAdjustment_FailingComponentDoesNotStopOthers(t *testing.T) {
	// GIVEN: A malformed rule on glass and a valid one on frame
	line := panelLine(component("glass", "2", "5"), component("frame", "1", "12"))
	bad := areaRule("bad", "glass", engine.DirectionIncrease, "0", "10")
	bad.AdjustmentType = "ratio"
	good := areaRule("good", "frame", engine.DirectionIncrease, "0", "10")
	idx := engine.NewRuleIndex(bad, good)

	got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)

	// THEN: glass untouched, frame adjusted
	assertDecimal(t, "2", got.Components[0].Quantity)
	assertDecimal(t, "1.1", got.Components[1].Quantity)
}

func TestComputeDimensionAdjustment_SkipsComponentsWithoutID(t *testing.T) {
	anonymous := component("", "3", "1")
	line := panelLine(anonymous)
	idx := engine.NewRuleIndex(areaRule("r", "", engine.DirectionBoth, "0", "50"))

	got := engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)
	assertDecimal(t, "3", got.Components[0].Quantity)
}

func TestComputeDimensionAdjustment_DoesNotMutateInput(t *testing.T) {
	line := panelLine(component("frame", "1", "12"))
	idx := engine.NewRuleIndex(areaRule("r1", "frame", engine.DirectionIncrease, "0", "10"))

	_ = engine.ComputeDimensionAdjustment(line, engine.DimensionArea, num("2"), num("3"), idx)
	assertDecimal(t, "1", line.Components[0].Quantity)
}

func TestApplyAll_CombinesDimensions(t *testing.T) {
	// GIVEN: Area +50% and height +50% from their baselines, one rule each
	line := panelLine(component("frame", "1", "10"))
	line.Height = num("1500")
	line = engine.DeriveDimensions(line)
	assertDecimal(t, "3", line.Area.Decimal)

	area := areaRule("area", "frame", engine.DirectionIncrease, "20", "10")
	area.Priority = 1
	height := areaRule("height", "frame", engine.DirectionIncrease, "20", "10")
	height.Dimension = engine.DimensionHeight
	height.Priority = 2
	adj := engine.NewAdjuster(engine.NewRuleIndex(area, height), nil)

	// WHEN: Applying everything at once
	got := adj.ApplyAll(line)

	// THEN: Both rules run in one pass: 1 x 1.1 x 1.1
	assertDecimal(t, "1.21", got.Components[0].Quantity)

	// AND: Applying again gives the same result
	again := adj.ApplyAll(got)
	assertDecimal(t, "1.21", again.Components[0].Quantity)
}

func TestApplyAll_RebasesWhenBackUnderThreshold(t *testing.T) {
	line := panelLine(component("frame", "1", "10"), component("screws", "8", "0.1"))
	adj := engine.NewAdjuster(engine.NewRuleIndex(areaRule("r", "frame", engine.DirectionIncrease, "20", "10")), nil)

	grown := engine.SetManualArea(line, num("3"))
	grown = adj.ApplyAll(grown)
	assertDecimal(t, "1.1", grown.Components[0].Quantity)

	// Area back to its baseline: the rule no longer applies
	restored := engine.SetManualArea(grown, num("2"))
	restored.Components[1].Quantity = dec("9") // manual drift on a component without rules
	restored = adj.ApplyAll(restored)
	assertDecimal(t, "1", restored.Components[0].Quantity)
	assertDecimal(t, "9", restored.Components[1].Quantity, "components without rules keep their value")
}

func TestApplyAll_QuantityRule(t *testing.T) {
	line := panelLine(component("frame", "1", "10"))
	line = engine.ScaleToQuantity(line, dec("4"))

	rule := engine.Rule{
		ID:              "bulk",
		ComponentID:     "frame",
		Dimension:       engine.DimensionQuantity,
		ChangeDirection: engine.DirectionIncrease,
		ChangeType:      engine.MeasureAbsolute,
		ChangeValue:     dec("3"),
		AdjustmentType:  engine.MeasurePercentage,
		AdjustmentValue: dec("-10"),
		IsActive:        true,
	}
	got := engine.NewAdjuster(engine.NewRuleIndex(rule), nil).ApplyAll(line)

	// Quantity 1 -> 4 (+3 absolute): 1 x 4 x 0.9
	assertDecimal(t, "3.6", got.Components[0].Quantity)
}
