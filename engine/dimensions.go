package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DIMENSION AUTO-DERIVATION
// =============================================================================

// DeriveDimensions recomputes area and volume from length, height and depth.
//
//	area   = round(length × height / 1e6 × quantity, 2)
//	volume = length × height × depth / 1e9 × quantity
//	       | (area / quantity) × (height / 1000) × quantity
//
// Manually entered area or volume is left alone. The first positive per-unit
// value becomes the baseline and is never replaced.
func DeriveDimensions(l LineItem) LineItem {
	out := l.Clone()

	if !out.AreaIsManual {
		if out.Length.Valid && out.Height.Valid {
			perUnit := out.Length.Decimal.Mul(out.Height.Decimal).Div(million)
			captureOnce(&out.BaselineArea, perUnit)
			out.Area = Some(perUnit.Mul(out.Quantity).Round(2))
		} else {
			out.Area = Null()
		}
	}

	if !out.VolumeIsManual {
		switch {
		case out.Length.Valid && out.Height.Valid && out.Depth.Valid:
			perUnit := out.Length.Decimal.Mul(out.Height.Decimal).Mul(out.Depth.Decimal).Div(billion)
			captureOnce(&out.BaselineVolume, perUnit)
			out.Volume = Some(perUnit.Mul(out.Quantity))
		case out.Area.Valid && out.Height.Valid && out.Quantity.IsPositive():
			perUnit := out.Area.Decimal.Div(out.Quantity).Mul(out.Height.Decimal.Div(thousand))
			captureOnce(&out.BaselineVolume, perUnit)
			out.Volume = Some(perUnit.Mul(out.Quantity))
		default:
			out.Volume = Null()
		}
	}

	return CaptureBaselines(out)
}

// CaptureBaselines records the first known value of every dimension that has
// no baseline yet. Area and volume baselines are per unit.
func CaptureBaselines(l LineItem) LineItem {
	out := l
	if out.Length.Valid {
		captureOnce(&out.BaselineLength, out.Length.Decimal)
	}
	if out.Height.Valid {
		captureOnce(&out.BaselineHeight, out.Height.Decimal)
	}
	if out.Depth.Valid {
		captureOnce(&out.BaselineDepth, out.Depth.Decimal)
	}
	if out.Quantity.IsPositive() {
		captureOnce(&out.BaselineQuantity, out.Quantity)
		if out.Area.Valid {
			captureOnce(&out.BaselineArea, out.Area.Decimal.Div(out.Quantity))
		}
		if out.Volume.Valid {
			captureOnce(&out.BaselineVolume, out.Volume.Decimal.Div(out.Quantity))
		}
	}
	return out
}

// SetManualArea records a typed area. A value pins the area against
// auto-derivation; clearing it releases the pin.
func SetManualArea(l LineItem, area decimal.NullDecimal) LineItem {
	out := l.Clone()
	out.Area = area
	out.AreaIsManual = area.Valid
	return CaptureBaselines(out)
}

// SetManualVolume is SetManualArea for volume.
func SetManualVolume(l LineItem, volume decimal.NullDecimal) LineItem {
	out := l.Clone()
	out.Volume = volume
	out.VolumeIsManual = volume.Valid
	return CaptureBaselines(out)
}

// ScaleToQuantity changes the line quantity and rescales everything that has a
// baseline: area, volume and every component (baseline per unit × quantity).
// No rules are involved.
func ScaleToQuantity(l LineItem, quantity decimal.Decimal) LineItem {
	out := l.Clone()
	previous := out.Quantity
	out.Quantity = quantity

	if out.BaselineArea.Valid {
		out.Area = Some(scaledArea(out, out.BaselineArea.Decimal))
	}
	if out.BaselineVolume.Valid {
		out.Volume = Some(out.BaselineVolume.Decimal.Mul(quantity))
	}

	for i, c := range out.Components {
		perUnit, err := BaselinePerUnit(c, previous)
		if err != nil {
			continue
		}
		c.BaselineQuantity = Some(perUnit)
		c.Quantity = perUnit.Mul(quantity)
		c.TotalPrice = c.Quantity.Mul(c.UnitPrice)
		out.Components[i] = c
	}
	return CaptureBaselines(out)
}

// CaptureComponentBaselines records the per-unit quantity of every component
// that has none, inferred from the current line quantity.
func CaptureComponentBaselines(l LineItem) LineItem {
	out := l.Clone()
	for i, c := range out.Components {
		if c.BaselineQuantity.Valid {
			continue
		}
		if perUnit, err := BaselinePerUnit(c, out.Quantity); err == nil {
			out.Components[i].BaselineQuantity = Some(perUnit)
		}
	}
	return out
}

// =============================================================================
// TOTALS
// =============================================================================

// LineTotal is unitPrice × area when area is positive, else unitPrice × quantity.
func LineTotal(l LineItem) decimal.Decimal {
	if positive(l.Area) {
		return l.UnitPrice.Mul(l.Area.Decimal)
	}
	return l.UnitPrice.Mul(l.Quantity)
}

// RecalculateTotals refreshes every component total and the line total.
func RecalculateTotals(l LineItem) LineItem {
	out := l.Clone()
	for i, c := range out.Components {
		out.Components[i].TotalPrice = c.Quantity.Mul(c.UnitPrice)
	}
	out.TotalPrice = LineTotal(out)
	return out
}

// DocumentTotal sums line totals.
func DocumentTotal(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.TotalPrice)
	}
	return total
}

// =============================================================================
// DIMENSION ACCESSORS
// =============================================================================

// ValueOf returns the current value of a dimension.
func ValueOf(l LineItem, dim Dimension) decimal.NullDecimal {
	switch dim {
	case DimensionArea:
		return l.Area
	case DimensionVolume:
		return l.Volume
	case DimensionHeight:
		return l.Height
	case DimensionLength:
		return l.Length
	case DimensionDepth:
		return l.Depth
	case DimensionQuantity:
		return Some(l.Quantity)
	}
	return Null()
}

// BaselineOf returns the value a dimension is measured against. Area and
// volume baselines are per unit, so they are scaled to the current quantity.
// A derived area is compared at its rounded precision, a manual one exactly.
func BaselineOf(l LineItem, dim Dimension) decimal.NullDecimal {
	switch dim {
	case DimensionArea:
		if l.BaselineArea.Valid {
			return Some(scaledArea(l, l.BaselineArea.Decimal))
		}
	case DimensionVolume:
		if l.BaselineVolume.Valid {
			return Some(l.BaselineVolume.Decimal.Mul(l.Quantity))
		}
	case DimensionHeight:
		return l.BaselineHeight
	case DimensionLength:
		return l.BaselineLength
	case DimensionDepth:
		return l.BaselineDepth
	case DimensionQuantity:
		return l.BaselineQuantity
	}
	return Null()
}

// scaledArea is perUnit × quantity, rounded like a derived area unless the
// area was typed.
func scaledArea(l LineItem, perUnit decimal.Decimal) decimal.Decimal {
	area := perUnit.Mul(l.Quantity)
	if l.AreaIsManual {
		return area
	}
	return area.Round(2)
}

func captureOnce(baseline *decimal.NullDecimal, value decimal.Decimal) {
	if baseline.Valid || !value.IsPositive() {
		return
	}
	*baseline = Some(value)
}
