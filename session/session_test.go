package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/material-engine/engine"
	"github.com/warp/material-engine/engine/store"
	"github.com/warp/material-engine/factory"
	"github.com/warp/material-engine/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mm(s string) decimal.NullDecimal {
	return engine.Some(dec(s))
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		t.Errorf("expected %s, got %s %v", want, got.String(), msgAndArgs)
	}
}

func demoStore(t *testing.T) *store.Memory {
	t.Helper()
	c, err := factory.ParseCatalog([]byte(factory.DemoCatalogYAML))
	require.NoError(t, err)
	m := store.NewMemory()
	require.NoError(t, c.Apply(context.Background(), m))
	return m
}

func openSession(t *testing.T, m *store.Memory, debounce time.Duration) *session.Session {
	t.Helper()
	s, err := session.Open(context.Background(), session.Deps{Catalog: m, Documents: m}, session.Options{
		Kind:               engine.KindQuote,
		Debounce:           debounce,
		AutoCalcDimensions: true,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func componentQty(t *testing.T, l engine.LineItem, componentID string) decimal.Decimal {
	t.Helper()
	for _, c := range l.Components {
		if c.ComponentID == componentID {
			return c.Quantity
		}
	}
	t.Fatalf("component %s not on line %s", componentID, l.ID)
	return decimal.Zero
}

// windowLine adds a 1000 × 1000 window, so the area baseline is 1 m².
func windowLine(t *testing.T, s *session.Session) engine.LineItem {
	t.Helper()
	ctx := context.Background()
	l, err := s.AddProduct(ctx, "window-standard", dec("1"))
	require.NoError(t, err)
	_, err = s.SetDimension(l.ID, engine.DimensionLength, mm("1000"))
	require.NoError(t, err)
	l, err = s.SetDimension(l.ID, engine.DimensionHeight, mm("1000"))
	require.NoError(t, err)
	return l
}

// =============================================================================
// OPEN / ADD PRODUCT
// =============================================================================

func TestOpen_RejectsUnknownKind(t *testing.T) {
	_, err := session.Open(context.Background(), session.Deps{}, session.Options{Kind: "receipt"})
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
}

func TestOpen_DefaultsToQuote(t *testing.T) {
	s, err := session.Open(context.Background(), session.Deps{}, session.Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, engine.KindQuote, s.Kind)
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.DocumentID)
}

func TestAddProduct_ActualMaterialComponents(t *testing.T) {
	s := openSession(t, demoStore(t), 0)

	l, err := s.AddProduct(context.Background(), "window-standard", dec("2"))
	require.NoError(t, err)

	assert.Equal(t, "windows", l.CategoryID)
	assert.Equal(t, "Standard window", l.Description)
	require.Len(t, l.Components, 4)
	assert.Equal(t, "Float glass 4mm", l.Components[0].Name)
	assertDecimal(t, "3", l.Components[0].Quantity)
	assertDecimal(t, "1.5", l.Components[0].BaselineQuantity.Decimal)
	assertDecimal(t, "96", l.Components[0].TotalPrice)
	assertDecimal(t, "360", l.TotalPrice)
}

func TestAddProduct_FallsBackToProductComponents(t *testing.T) {
	s := openSession(t, demoStore(t), 0)

	l, err := s.AddProduct(context.Background(), "door-entry", dec("1"))
	require.NoError(t, err)

	require.Len(t, l.Components, 3)
	assert.Equal(t, "screws", l.Components[1].ComponentID)
	assert.Equal(t, "Stainless screws", l.Components[1].Name)
	assertDecimal(t, "24", l.Components[1].Quantity)
}

func TestAddProduct_Errors(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "missing", dec("1"))
	assert.ErrorIs(t, err, engine.ErrProductNotFound)

	_, err = s.AddProduct(ctx, "window-standard", dec("0"))
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	assert.Empty(t, s.Lines())
}

// =============================================================================
// DIMENSION EDITS
// =============================================================================

func TestSetDimension_DerivesAreaAndAdjusts(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l := windowLine(t, s)

	assertDecimal(t, "1", l.Area.Decimal)
	assertDecimal(t, "1.5", componentQty(t, l, "glass"))

	l, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	assertDecimal(t, "1.5", l.Area.Decimal)
	assertDecimal(t, "270", l.TotalPrice)

	// synchronous passes have already run
	l, err = s.Line(l.ID)
	require.NoError(t, err)
	assertDecimal(t, "1.65", componentQty(t, l, "glass"))
	assertDecimal(t, "1.8", componentQty(t, l, "install-labor"))
	assertDecimal(t, "1", componentQty(t, l, "sealant"))
	assertDecimal(t, "5", componentQty(t, l, "frame-profile"))
}

func TestSetDimension_RepeatedEditsStartFromBaseline(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l := windowLine(t, s)

	for _, length := range []string{"1500", "1600", "2000"} {
		_, err := s.SetDimension(l.ID, engine.DimensionLength, mm(length))
		require.NoError(t, err)
	}

	l, err := s.Line(l.ID)
	require.NoError(t, err)
	assertDecimal(t, "1.65", componentQty(t, l, "glass"), "glass is adjusted once, not compounded")
	assertDecimal(t, "2", componentQty(t, l, "sealant"))
}

func TestSetDimension_Validation(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l := windowLine(t, s)

	_, err := s.SetDimension(l.ID, engine.Dimension("width"), mm("1"))
	assert.ErrorIs(t, err, engine.ErrInvalidDimension)

	_, err = s.SetDimension(l.ID, engine.DimensionLength, mm("-1"))
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	_, err = s.SetDimension(l.ID, engine.DimensionQuantity, engine.Null())
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	_, err = s.SetDimension("nope", engine.DimensionLength, mm("1"))
	assert.ErrorIs(t, err, engine.ErrLineNotFound)
}

func TestSetDimension_QuantityScalesProportionally(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l, err := s.AddProduct(context.Background(), "door-entry", dec("1"))
	require.NoError(t, err)

	l, err = s.SetDimension(l.ID, engine.DimensionQuantity, mm("2"))
	require.NoError(t, err)

	assertDecimal(t, "12", componentQty(t, l, "frame-profile"))
	assertDecimal(t, "48", componentQty(t, l, "screws"))
	assertDecimal(t, "6", componentQty(t, l, "install-labor"))
	assertDecimal(t, "1300", l.TotalPrice)
}

func TestSetDimension_QuantityKeepsAreaAdjustments(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l := windowLine(t, s)

	// GIVEN: a window grown to 1.5 m², glass already adjusted
	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	l, err = s.Line(l.ID)
	require.NoError(t, err)
	assertDecimal(t, "1.65", componentQty(t, l, "glass"))

	// WHEN: the quantity doubles
	_, err = s.SetDimension(l.ID, engine.DimensionQuantity, mm("2"))
	require.NoError(t, err)

	// THEN: area is still 50% over its baseline and the area rules still hold
	l, err = s.Line(l.ID)
	require.NoError(t, err)
	assertDecimal(t, "3", l.Area.Decimal)
	assertDecimal(t, "3.3", componentQty(t, l, "glass"))
	assertDecimal(t, "3.6", componentQty(t, l, "install-labor"))
	assertDecimal(t, "3", componentQty(t, l, "sealant"))
	assertDecimal(t, "10", componentQty(t, l, "frame-profile"))
	assertDecimal(t, "540", l.TotalPrice)

	// apply now agrees with the automatic pass
	lines, err := s.ApplyNow(session.Scope{LineID: l.ID})
	require.NoError(t, err)
	assertDecimal(t, "3.3", componentQty(t, lines[0], "glass"))
	assertDecimal(t, "3.6", componentQty(t, lines[0], "install-labor"))
}

func TestSetDimension_QuantityReplacesPendingPasses(t *testing.T) {
	s := openSession(t, demoStore(t), time.Hour)
	l := windowLine(t, s)
	_, err := s.ApplyNow(session.Scope{})
	require.NoError(t, err)

	_, err = s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	assert.Contains(t, s.Pending(), session.TimerKey{LineID: l.ID, Dimension: engine.DimensionArea})

	_, err = s.SetDimension(l.ID, engine.DimensionQuantity, mm("2"))
	require.NoError(t, err)
	assert.Equal(t, []session.TimerKey{{LineID: l.ID, Dimension: engine.DimensionQuantity}}, s.Pending())

	lines, err := s.ApplyNow(session.Scope{LineID: l.ID, Dimension: engine.DimensionQuantity})
	require.NoError(t, err)
	assert.Empty(t, s.Pending())
	assertDecimal(t, "3.3", componentQty(t, lines[0], "glass"))
	assertDecimal(t, "3.6", componentQty(t, lines[0], "install-labor"))
}

func TestSetDimension_HeightRuleRespectsCategory(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	ctx := context.Background()

	door, err := s.AddProduct(ctx, "door-entry", dec("1"))
	require.NoError(t, err)
	_, err = s.SetDimension(door.ID, engine.DimensionHeight, mm("2000"))
	require.NoError(t, err)
	_, err = s.SetDimension(door.ID, engine.DimensionHeight, mm("2300"))
	require.NoError(t, err)

	door, err = s.Line(door.ID)
	require.NoError(t, err)
	assertDecimal(t, "32", componentQty(t, door, "screws"))
}

func TestSetDimension_ManualAreaIsKept(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l := windowLine(t, s)

	l, err := s.SetDimension(l.ID, engine.DimensionArea, mm("1.25"))
	require.NoError(t, err)
	assert.True(t, l.AreaIsManual)

	l, err = s.SetDimension(l.ID, engine.DimensionLength, mm("3000"))
	require.NoError(t, err)
	assertDecimal(t, "1.25", l.Area.Decimal)
}

// =============================================================================
// DEBOUNCE
// =============================================================================

func TestDebounce_DelaysRulePass(t *testing.T) {
	s := openSession(t, demoStore(t), 20*time.Millisecond)
	l := windowLine(t, s)

	l, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	assertDecimal(t, "1.5", l.Area.Decimal, "area derives immediately")
	assertDecimal(t, "1.5", componentQty(t, l, "glass"), "rules wait for the timer")
	assert.Contains(t, s.Pending(), session.TimerKey{LineID: l.ID, Dimension: engine.DimensionArea})

	assert.Eventually(t, func() bool {
		current, err := s.Line(l.ID)
		return err == nil && componentQty(t, current, "glass").Equal(dec("1.65"))
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(s.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDebounce_FiredPassCountsAsActivity(t *testing.T) {
	s := openSession(t, demoStore(t), 20*time.Millisecond)
	l := windowLine(t, s)

	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	edited := s.LastActivity()

	assert.Eventually(t, func() bool { return len(s.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.LastActivity().After(edited), "the rule pass refreshes the idle clock")
}

func TestApplyNow_CancelsPendingAndRebases(t *testing.T) {
	s := openSession(t, demoStore(t), time.Hour)
	l := windowLine(t, s)

	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("2000"))
	require.NoError(t, err)
	require.NotEmpty(t, s.Pending())

	lines, err := s.ApplyNow(session.Scope{})
	require.NoError(t, err)
	assert.Empty(t, s.Pending())
	require.Len(t, lines, 1)
	assertDecimal(t, "1.65", componentQty(t, lines[0], "glass"))
	assertDecimal(t, "2", componentQty(t, lines[0], "sealant"))

	// back to the original size: apply-now measures from baseline and rebases
	_, err = s.SetDimension(l.ID, engine.DimensionLength, mm("1000"))
	require.NoError(t, err)
	lines, err = s.ApplyNow(session.Scope{LineID: l.ID})
	require.NoError(t, err)
	assertDecimal(t, "1.5", componentQty(t, lines[0], "glass"))
	assertDecimal(t, "1", componentQty(t, lines[0], "sealant"))
	assertDecimal(t, "2", componentQty(t, lines[0], "install-labor"))
}

func TestApplyNow_SingleDimension(t *testing.T) {
	s := openSession(t, demoStore(t), time.Hour)
	l := windowLine(t, s)

	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)

	lines, err := s.ApplyNow(session.Scope{LineID: l.ID, Dimension: engine.DimensionArea})
	require.NoError(t, err)
	assertDecimal(t, "1.65", componentQty(t, lines[0], "glass"))
	assert.NotContains(t, s.Pending(), session.TimerKey{LineID: l.ID, Dimension: engine.DimensionArea})
	assert.Contains(t, s.Pending(), session.TimerKey{LineID: l.ID, Dimension: engine.DimensionLength})
}

func TestApplyNow_Errors(t *testing.T) {
	s := openSession(t, demoStore(t), 0)

	_, err := s.ApplyNow(session.Scope{LineID: "nope"})
	assert.ErrorIs(t, err, engine.ErrLineNotFound)

	_, err = s.ApplyNow(session.Scope{Dimension: "width"})
	assert.ErrorIs(t, err, engine.ErrInvalidDimension)
}

func TestClose_CancelsTimers(t *testing.T) {
	s := openSession(t, demoStore(t), 20*time.Millisecond)
	l := windowLine(t, s)

	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	s.Close()
	assert.Empty(t, s.Pending())
	assert.True(t, s.Closed())

	time.Sleep(50 * time.Millisecond)
	lines := s.Lines()
	require.Len(t, lines, 1)
	assertDecimal(t, "1.5", componentQty(t, lines[0], "glass"))

	_, err = s.SetDimension(l.ID, engine.DimensionLength, mm("1600"))
	assert.ErrorIs(t, err, engine.ErrSessionClosed)
	_, err = s.ApplyNow(session.Scope{})
	assert.ErrorIs(t, err, engine.ErrSessionClosed)
	s.Close()
}

func TestRemoveLine_DropsTimers(t *testing.T) {
	s := openSession(t, demoStore(t), time.Hour)
	l := windowLine(t, s)

	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)
	require.NoError(t, s.RemoveLine(l.ID))

	assert.Empty(t, s.Pending())
	assert.Empty(t, s.Lines())
	assert.ErrorIs(t, s.RemoveLine(l.ID), engine.ErrLineNotFound)
}

// =============================================================================
// OTHER EDITS
// =============================================================================

func TestSetUnitPriceAndComponentQuantity(t *testing.T) {
	s := openSession(t, demoStore(t), 0)
	l, err := s.AddProduct(context.Background(), "window-standard", dec("2"))
	require.NoError(t, err)

	l, err = s.SetUnitPrice(l.ID, dec("200"))
	require.NoError(t, err)
	assertDecimal(t, "400", l.TotalPrice)

	_, err = s.SetUnitPrice(l.ID, dec("-1"))
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	l, err = s.SetComponentQuantity(l.ID, 0, dec("4"))
	require.NoError(t, err)
	assertDecimal(t, "4", l.Components[0].Quantity)
	assertDecimal(t, "2", l.Components[0].BaselineQuantity.Decimal)
	assertDecimal(t, "128", l.Components[0].TotalPrice)

	_, err = s.SetComponentQuantity(l.ID, 9, dec("1"))
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
}

// =============================================================================
// RULE LOADING / PERSISTENCE
// =============================================================================

func TestOpen_RuleLoadFailureDisablesAdjustments(t *testing.T) {
	m := demoStore(t)
	m.RuleErr = errors.New("connection refused")
	s := openSession(t, m, 0)
	l := windowLine(t, s)

	l, err := s.SetDimension(l.ID, engine.DimensionLength, mm("2000"))
	require.NoError(t, err)
	assertDecimal(t, "1.5", componentQty(t, l, "glass"))
	assertDecimal(t, "360", l.TotalPrice)
}

func TestSaveAndResume(t *testing.T) {
	m := demoStore(t)
	ctx := context.Background()
	s := openSession(t, m, 0)
	l := windowLine(t, s)
	_, err := s.SetDimension(l.ID, engine.DimensionLength, mm("1500"))
	require.NoError(t, err)

	doc, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.DocumentID, doc.ID)
	assertDecimal(t, "270", doc.TotalPrice)

	stored, err := m.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)

	resumed, err := session.Open(ctx, session.Deps{Catalog: m, Documents: m}, session.Options{DocumentID: doc.ID})
	require.NoError(t, err)
	defer resumed.Close()

	lines := resumed.Lines()
	require.Len(t, lines, 1)
	assertDecimal(t, "1.65", componentQty(t, lines[0], "glass"))
	assertDecimal(t, "1", lines[0].BaselineArea.Decimal)
	assertDecimal(t, "270", resumed.Total())
}

func TestSave_WithoutStore(t *testing.T) {
	s, err := session.Open(context.Background(), session.Deps{}, session.Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Save(context.Background())
	assert.Error(t, err)
}
