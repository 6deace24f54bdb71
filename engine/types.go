/*
Package engine provides the material-quantity adjustment engine.

PURPOSE:
  When a physical dimension of an invoice or quote line changes (length,
  height, depth, area, volume or quantity), the bill-of-materials components
  attached to that line are rescaled. Stored adjustment rules decide which
  changes matter and by how much a component's quantity moves.

KEY CONCEPTS IN THIS FILE (types.go):
  - Dimension: which physical measure of a line changed
  - Rule: a stored policy linking a dimension change to a component quantity change
  - LineItem: one row of an invoice or quote, with its dimensions and components
  - ComponentLine: one bill-of-materials entry on a line
  - Baseline: the per-unit reference value all changes are measured against

DESIGN PRINCIPLES:
  1. Baselines: every recomputation starts from the recorded baseline, never
     from the live value, so repeated passes do not compound
  2. Precision: uses decimal.Decimal for quantities, prices and dimensions
  3. Nullability: optional measures are decimal.NullDecimal
  4. Purity: engine functions take values and return values; state lives in
     the session package

UNITS:
  length, height, depth: millimeters
  area:                  square meters
  volume:                cubic meters

SEE ALSO:
  - rules.go: Rule index and loading
  - evaluator.go: Rule applicability
  - adjuster.go: Quantity adjustment
  - dimensions.go: Area/volume derivation and totals
  - orchestrator.go: The per-line adjustment pass
*/
package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Dimension identifies which measure of a line item triggers a rule.
type Dimension string

const (
	DimensionArea     Dimension = "area"
	DimensionVolume   Dimension = "volume"
	DimensionHeight   Dimension = "height"
	DimensionLength   Dimension = "length"
	DimensionDepth    Dimension = "depth"
	DimensionQuantity Dimension = "quantity"
)

// Dimensions lists every dimension in the order an explicit "apply now" walks them.
var Dimensions = []Dimension{
	DimensionArea,
	DimensionVolume,
	DimensionHeight,
	DimensionLength,
	DimensionDepth,
	DimensionQuantity,
}

func (d Dimension) Valid() bool {
	switch d {
	case DimensionArea, DimensionVolume, DimensionHeight, DimensionLength, DimensionDepth, DimensionQuantity:
		return true
	}
	return false
}

// Direction is the sign of a dimension change.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionBoth     Direction = "both" // Rules only
)

func (d Direction) Valid() bool {
	return d == DirectionIncrease || d == DirectionDecrease || d == DirectionBoth
}

// Measure says how a threshold or an adjustment is expressed.
type Measure string

const (
	MeasurePercentage Measure = "percentage"
	MeasureAbsolute   Measure = "absolute"
)

func (m Measure) Valid() bool {
	return m == MeasurePercentage || m == MeasureAbsolute
}

// =============================================================================
// RULE - Stored adjustment policy (read-only reference data)
// =============================================================================

type Rule struct {
	ID          string
	Name        string
	ComponentID string
	Dimension   Dimension

	// Trigger
	ChangeDirection Direction
	ChangeType      Measure
	ChangeValue     decimal.Decimal

	// Effect
	AdjustmentType  Measure
	AdjustmentValue decimal.Decimal

	// Caps on the cumulative adjustment, measured from the original quantity
	MaxAdjustmentPercentage decimal.NullDecimal
	MaxAdjustmentValue      decimal.NullDecimal

	// Lower runs first
	Priority int

	// Empty means every category
	AllowedCategoryIDs []string

	// Inverse marks a rule that fires on increase and applies its (negative)
	// adjustment. Legacy rules encode this as direction=decrease with a
	// negative adjustment value; see IsInverseRule.
	Inverse bool

	IsActive bool
}

// =============================================================================
// LINE ITEM - One invoice or quote row
// =============================================================================

type LineItem struct {
	ID          string
	ProductID   string
	CategoryID  string
	Description string

	Length decimal.NullDecimal // mm
	Height decimal.NullDecimal // mm
	Depth  decimal.NullDecimal // mm
	Area   decimal.NullDecimal // m², total for the line
	Volume decimal.NullDecimal // m³, total for the line

	Quantity decimal.Decimal

	// Per-unit area/volume captured the first time they are known.
	// Never overwritten while set.
	BaselineArea   decimal.NullDecimal
	BaselineVolume decimal.NullDecimal

	// First recorded values of the remaining dimensions. Same rule.
	BaselineLength   decimal.NullDecimal
	BaselineHeight   decimal.NullDecimal
	BaselineDepth    decimal.NullDecimal
	BaselineQuantity decimal.NullDecimal

	AreaIsManual   bool
	VolumeIsManual bool

	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal

	Components []ComponentLine
}

// Clone returns a copy that shares no slices with l.
func (l LineItem) Clone() LineItem {
	out := l
	if l.Components != nil {
		out.Components = make([]ComponentLine, len(l.Components))
		copy(out.Components, l.Components)
	}
	return out
}

// =============================================================================
// COMPONENT LINE - Bill-of-materials entry on a line
// =============================================================================

type ComponentLine struct {
	ComponentID string
	Name        string
	Unit        string
	UnitPrice   decimal.Decimal
	Quantity    decimal.Decimal
	TotalPrice  decimal.Decimal

	// Quantity per one parent unit, captured when the component is attached.
	BaselineQuantity decimal.NullDecimal
}

// =============================================================================
// CATALOG AND DOCUMENT RECORDS
// =============================================================================

// Product is a sellable item whose components are copied onto new lines.
type Product struct {
	ID         string
	Name       string
	CategoryID string
	UnitPrice  decimal.Decimal
}

// ProductComponent is one authored bill-of-materials entry of a product.
type ProductComponent struct {
	ProductID       string
	ExpenseObjectID string // ComponentLine.ComponentID
	Unit            string
	UnitPrice       decimal.Decimal
	Quantity        decimal.Decimal // per one product unit
}

type DocumentKind string

const (
	KindInvoice DocumentKind = "invoice"
	KindQuote   DocumentKind = "quote"
)

func (k DocumentKind) Valid() bool {
	return k == KindInvoice || k == KindQuote
}

// Document is a saved invoice or quote.
type Document struct {
	ID         string
	Kind       DocumentKind
	Number     string
	Customer   string
	Lines      []LineItem
	TotalPrice decimal.Decimal
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var (
	hundred     = decimal.NewFromInt(100)
	thousand    = decimal.NewFromInt(1000)
	million     = decimal.NewFromInt(1_000_000)
	billion     = decimal.NewFromInt(1_000_000_000)
	decimalNull = decimal.NullDecimal{}
)

// Null is the absent value.
func Null() decimal.NullDecimal { return decimalNull }

// Some wraps a present value.
func Some(d decimal.Decimal) decimal.NullDecimal { return decimal.NewNullDecimal(d) }

// Num is shorthand for Some(decimal.NewFromFloat(f)).
func Num(f float64) decimal.NullDecimal { return Some(decimal.NewFromFloat(f)) }

// FromFloat converts user input, rejecting NaN and infinities.
func FromFloat(f float64) (decimal.NullDecimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimalNull, false
	}
	return Some(decimal.NewFromFloat(f)), true
}

// FromFloatPtr treats nil as an explicit clear.
func FromFloatPtr(f *float64) (decimal.NullDecimal, bool) {
	if f == nil {
		return decimalNull, true
	}
	return FromFloat(*f)
}

func positive(n decimal.NullDecimal) bool {
	return n.Valid && n.Decimal.IsPositive()
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
