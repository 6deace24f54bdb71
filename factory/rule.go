/*
Package factory converts JSON and YAML definitions into engine types.

PURPOSE:
  Adjustment rules are authored by non-developers in an admin screen and
  stored as plain records. The factory validates those records and turns
  them into engine.Rule values; it also reads whole YAML catalogs
  (products, bill-of-materials, component names, rules) used to seed a store.

RULE JSON:
  {
    "id": "glass-area",
    "component_id": "glass",
    "dimension_type": "area",
    "change_direction": "increase",
    "change_type": "percentage",
    "change_value": 20,
    "adjustment_type": "percentage",
    "adjustment_value": 10,
    "max_adjustment_percentage": 30,
    "priority": 1,
    "allowed_category_ids": ["windows"],
    "is_active": true
  }

DEFAULTS:
  change_direction: both
  change_type:      percentage
  adjustment_type:  percentage
  is_active:        true

SEE ALSO:
  - engine/types.go: Rule definition
  - catalog.go: YAML catalogs
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the stored/transport representation of an adjustment rule.
type RuleJSON struct {
	ID                      string   `json:"id" yaml:"id"`
	Name                    string   `json:"name,omitempty" yaml:"name,omitempty"`
	ComponentID             string   `json:"component_id" yaml:"component_id"`
	DimensionType           string   `json:"dimension_type" yaml:"dimension_type"`
	ChangeDirection         string   `json:"change_direction,omitempty" yaml:"change_direction,omitempty"`
	ChangeType              string   `json:"change_type,omitempty" yaml:"change_type,omitempty"`
	ChangeValue             float64  `json:"change_value" yaml:"change_value"`
	AdjustmentType          string   `json:"adjustment_type,omitempty" yaml:"adjustment_type,omitempty"`
	AdjustmentValue         float64  `json:"adjustment_value" yaml:"adjustment_value"`
	MaxAdjustmentPercentage *float64 `json:"max_adjustment_percentage,omitempty" yaml:"max_adjustment_percentage,omitempty"`
	MaxAdjustmentValue      *float64 `json:"max_adjustment_value,omitempty" yaml:"max_adjustment_value,omitempty"`
	Priority                int      `json:"priority" yaml:"priority"`
	AllowedCategoryIDs      []string `json:"allowed_category_ids,omitempty" yaml:"allowed_category_ids,omitempty"`
	Inverse                 bool     `json:"inverse,omitempty" yaml:"inverse,omitempty"`
	IsActive                *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// =============================================================================
// RULE CONVERSION
// =============================================================================

// ParseRule parses a JSON string into a validated Rule.
func ParseRule(jsonStr string) (engine.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return engine.Rule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return RuleFromJSON(rj)
}

// RuleFromJSON applies defaults and validates enums.
func RuleFromJSON(rj RuleJSON) (engine.Rule, error) {
	r := engine.Rule{
		ID:                 rj.ID,
		Name:               rj.Name,
		ComponentID:        rj.ComponentID,
		Dimension:          engine.Dimension(rj.DimensionType),
		ChangeDirection:    engine.Direction(orDefault(rj.ChangeDirection, string(engine.DirectionBoth))),
		ChangeType:         engine.Measure(orDefault(rj.ChangeType, string(engine.MeasurePercentage))),
		ChangeValue:        decimal.NewFromFloat(rj.ChangeValue),
		AdjustmentType:     engine.Measure(orDefault(rj.AdjustmentType, string(engine.MeasurePercentage))),
		AdjustmentValue:    decimal.NewFromFloat(rj.AdjustmentValue),
		Priority:           rj.Priority,
		AllowedCategoryIDs: append([]string(nil), rj.AllowedCategoryIDs...),
		Inverse:            rj.Inverse,
		IsActive:           rj.IsActive == nil || *rj.IsActive,
	}
	if rj.MaxAdjustmentPercentage != nil {
		r.MaxAdjustmentPercentage = engine.Some(decimal.NewFromFloat(*rj.MaxAdjustmentPercentage))
	}
	if rj.MaxAdjustmentValue != nil {
		r.MaxAdjustmentValue = engine.Some(decimal.NewFromFloat(*rj.MaxAdjustmentValue))
	}

	if err := ValidateRule(r); err != nil {
		return engine.Rule{}, err
	}
	return r, nil
}

// ValidateRule rejects rules the engine cannot evaluate.
func ValidateRule(r engine.Rule) error {
	switch {
	case r.ComponentID == "":
		return fmt.Errorf("%w: component_id is required", engine.ErrInvalidRule)
	case !r.Dimension.Valid():
		return fmt.Errorf("%w: unknown dimension_type %q", engine.ErrInvalidRule, r.Dimension)
	case !r.ChangeDirection.Valid():
		return fmt.Errorf("%w: unknown change_direction %q", engine.ErrInvalidRule, r.ChangeDirection)
	case !r.ChangeType.Valid():
		return fmt.Errorf("%w: unknown change_type %q", engine.ErrInvalidRule, r.ChangeType)
	case !r.AdjustmentType.Valid():
		return fmt.Errorf("%w: unknown adjustment_type %q", engine.ErrInvalidRule, r.AdjustmentType)
	case r.Inverse && !r.AdjustmentValue.IsNegative():
		return fmt.Errorf("%w: inverse rules need a negative adjustment_value", engine.ErrInvalidRule)
	case r.MaxAdjustmentPercentage.Valid && r.MaxAdjustmentPercentage.Decimal.IsNegative():
		return fmt.Errorf("%w: max_adjustment_percentage must not be negative", engine.ErrInvalidRule)
	case r.MaxAdjustmentValue.Valid && r.MaxAdjustmentValue.Decimal.IsNegative():
		return fmt.Errorf("%w: max_adjustment_value must not be negative", engine.ErrInvalidRule)
	}
	return nil
}

// RuleToJSON converts a Rule back to its stored representation.
func RuleToJSON(r engine.Rule) RuleJSON {
	active := r.IsActive
	rj := RuleJSON{
		ID:                 r.ID,
		Name:               r.Name,
		ComponentID:        r.ComponentID,
		DimensionType:      string(r.Dimension),
		ChangeDirection:    string(r.ChangeDirection),
		ChangeType:         string(r.ChangeType),
		ChangeValue:        r.ChangeValue.InexactFloat64(),
		AdjustmentType:     string(r.AdjustmentType),
		AdjustmentValue:    r.AdjustmentValue.InexactFloat64(),
		Priority:           r.Priority,
		AllowedCategoryIDs: r.AllowedCategoryIDs,
		Inverse:            r.Inverse,
		IsActive:           &active,
	}
	if r.MaxAdjustmentPercentage.Valid {
		v := r.MaxAdjustmentPercentage.Decimal.InexactFloat64()
		rj.MaxAdjustmentPercentage = &v
	}
	if r.MaxAdjustmentValue.Valid {
		v := r.MaxAdjustmentValue.Decimal.InexactFloat64()
		rj.MaxAdjustmentValue = &v
	}
	return rj
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
