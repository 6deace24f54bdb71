package sqlite

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/material-engine/engine"
	"github.com/warp/material-engine/factory"
)

var (
	_ engine.Catalog        = (*Store)(nil)
	_ engine.DocumentStore  = (*Store)(nil)
	_ factory.CatalogWriter = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDemo(t *testing.T, s *Store) {
	t.Helper()
	c, err := factory.ParseCatalog([]byte(factory.DemoCatalogYAML))
	require.NoError(t, err)
	require.NoError(t, c.Apply(context.Background(), s))
}

func TestRules_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := factory.ParseRule(`{
		"id": "r1", "component_id": "glass", "dimension_type": "area",
		"change_value": 20, "adjustment_value": 10.25,
		"max_adjustment_percentage": 30, "priority": 2,
		"allowed_category_ids": ["windows", "doors"]
	}`)
	require.NoError(t, err)
	require.NoError(t, s.SaveRule(ctx, r))

	got, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, engine.DimensionArea, got.Dimension)
	assert.True(t, got.AdjustmentValue.Equal(decimal.RequireFromString("10.25")))
	assert.True(t, got.MaxAdjustmentPercentage.Valid)
	assert.False(t, got.MaxAdjustmentValue.Valid)
	assert.Equal(t, []string{"windows", "doors"}, got.AllowedCategoryIDs)
	assert.True(t, got.IsActive)

	r.IsActive = false
	r.Name = "disabled"
	require.NoError(t, s.SaveRule(ctx, r))

	active, err := s.ListActiveRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "disabled", all[0].Name)

	require.NoError(t, s.DeleteRule(ctx, "r1"))
	assert.ErrorIs(t, s.DeleteRule(ctx, "r1"), engine.ErrRuleNotFound)
	_, err = s.GetRule(ctx, "r1")
	assert.ErrorIs(t, err, engine.ErrRuleNotFound)
}

func TestCatalog_Import(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDemo(t, s)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Entry door", products[0].Name)

	window, err := s.GetProduct(ctx, "window-standard")
	require.NoError(t, err)
	assert.True(t, window.UnitPrice.Equal(decimal.NewFromInt(180)))

	actual, err := s.ActualMaterialComponents(ctx, "window-standard")
	require.NoError(t, err)
	require.Len(t, actual, 4)
	assert.Equal(t, "glass", actual[0].ExpenseObjectID)
	assert.Equal(t, "install-labor", actual[3].ExpenseObjectID)
	assert.True(t, actual[2].UnitPrice.Equal(decimal.RequireFromString("6.5")))

	authored, err := s.ProductComponents(ctx, "door-entry")
	require.NoError(t, err)
	assert.Len(t, authored, 3)

	none, err := s.ActualMaterialComponents(ctx, "door-entry")
	require.NoError(t, err)
	assert.Empty(t, none)

	names, err := s.ComponentNames(ctx, []string{"glass", "screws", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"glass": "Float glass 4mm", "screws": "Stainless screws"}, names)

	rules, err := s.ListActiveRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 4)

	_, err = s.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrProductNotFound)
}

func TestCatalog_ComponentsAreReplaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDemo(t, s)

	require.NoError(t, s.SaveActualMaterialComponents(ctx, "window-standard", []engine.ProductComponent{
		{ExpenseObjectID: "glass", Unit: "m2", UnitPrice: decimal.NewFromInt(30), Quantity: decimal.NewFromInt(2)},
	}))

	actual, err := s.ActualMaterialComponents(ctx, "window-standard")
	require.NoError(t, err)
	require.Len(t, actual, 1)
	assert.True(t, actual[0].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestDocuments_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	line := engine.LineItem{
		ID:           "line-1",
		ProductID:    "window-standard",
		CategoryID:   "windows",
		Length:       engine.Num(1500),
		Height:       engine.Num(1000),
		Area:         engine.Num(1.5),
		Quantity:     decimal.NewFromInt(1),
		BaselineArea: engine.Num(1),
		UnitPrice:    decimal.NewFromInt(180),
		TotalPrice:   decimal.NewFromInt(270),
		Components: []engine.ComponentLine{{
			ComponentID:      "glass",
			Name:             "Float glass 4mm",
			UnitPrice:        decimal.NewFromInt(32),
			Quantity:         decimal.RequireFromString("1.65"),
			TotalPrice:       decimal.RequireFromString("52.8"),
			BaselineQuantity: engine.Num(1.5),
		}},
	}
	doc := engine.Document{
		ID:         "doc-1",
		Kind:       engine.KindQuote,
		Number:     "Q-1",
		Lines:      []engine.LineItem{line},
		TotalPrice: decimal.NewFromInt(270),
	}
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, engine.KindQuote, got.Kind)
	assert.Equal(t, "Q-1", got.Number)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].Components[0].Quantity.Equal(decimal.RequireFromString("1.65")))
	assert.True(t, got.Lines[0].BaselineArea.Decimal.Equal(decimal.NewFromInt(1)))
	assert.False(t, got.Lines[0].Depth.Valid)

	// saving again replaces the items
	doc.Lines = nil
	doc.TotalPrice = decimal.Zero
	require.NoError(t, s.SaveDocument(ctx, doc))
	got, err = s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got.Lines)

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, engine.ErrDocumentNotFound)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDemo(t, s)

	require.NoError(t, s.Reset(ctx))
	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}
