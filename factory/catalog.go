package factory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/material-engine/engine"
)

// =============================================================================
// CATALOG YAML
// =============================================================================

// CatalogYAML is a seed file: component names, products with their
// bill-of-materials, and adjustment rules.
type CatalogYAML struct {
	Components []ComponentYAML `yaml:"components"`
	Products   []ProductYAML   `yaml:"products"`
	Rules      []RuleJSON      `yaml:"rules"`
}

type ComponentYAML struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type ProductYAML struct {
	ID                       string                 `yaml:"id"`
	Name                     string                 `yaml:"name"`
	CategoryID               string                 `yaml:"category_id"`
	UnitPrice                float64                `yaml:"unit_price"`
	ActualMaterialComponents []ProductComponentYAML `yaml:"actual_material_components"`
	ProductComponents        []ProductComponentYAML `yaml:"product_components"`
}

type ProductComponentYAML struct {
	ExpenseObjectID string  `yaml:"expense_object_id"`
	Unit            string  `yaml:"unit"`
	UnitPrice       float64 `yaml:"unit_price"`
	Quantity        float64 `yaml:"quantity"`
}

// Catalog is a parsed, validated seed.
type Catalog struct {
	Products       []engine.Product
	Actual         map[string][]engine.ProductComponent
	Authored       map[string][]engine.ProductComponent
	ComponentNames map[string]string
	Rules          []engine.Rule
}

// CatalogWriter is the write side a catalog is applied to.
type CatalogWriter interface {
	SaveProduct(ctx context.Context, p engine.Product) error
	SaveActualMaterialComponents(ctx context.Context, productID string, comps []engine.ProductComponent) error
	SaveProductComponents(ctx context.Context, productID string, comps []engine.ProductComponent) error
	SaveComponentName(ctx context.Context, id, name string) error
	SaveRule(ctx context.Context, r engine.Rule) error
}

// ParseCatalog parses and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cy CatalogYAML
	if err := yaml.Unmarshal(data, &cy); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	c := &Catalog{
		Actual:         make(map[string][]engine.ProductComponent),
		Authored:       make(map[string][]engine.ProductComponent),
		ComponentNames: make(map[string]string),
	}

	for _, comp := range cy.Components {
		if comp.ID == "" {
			return nil, fmt.Errorf("catalog component without id")
		}
		c.ComponentNames[comp.ID] = comp.Name
	}

	seen := make(map[string]bool)
	for _, py := range cy.Products {
		if py.ID == "" {
			return nil, fmt.Errorf("catalog product without id")
		}
		if seen[py.ID] {
			return nil, fmt.Errorf("duplicate product %q", py.ID)
		}
		seen[py.ID] = true

		c.Products = append(c.Products, engine.Product{
			ID:         py.ID,
			Name:       py.Name,
			CategoryID: py.CategoryID,
			UnitPrice:  decimal.NewFromFloat(py.UnitPrice),
		})
		c.Actual[py.ID] = convertComponents(py.ID, py.ActualMaterialComponents)
		c.Authored[py.ID] = convertComponents(py.ID, py.ProductComponents)
	}

	for i, rj := range cy.Rules {
		if rj.ID == "" {
			rj.ID = fmt.Sprintf("rule-%d", i+1)
		}
		r, err := RuleFromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rj.ID, err)
		}
		c.Rules = append(c.Rules, r)
	}

	return c, nil
}

// Apply writes every catalog record to w.
func (c *Catalog) Apply(ctx context.Context, w CatalogWriter) error {
	for id, name := range c.ComponentNames {
		if err := w.SaveComponentName(ctx, id, name); err != nil {
			return fmt.Errorf("failed to save component %s: %w", id, err)
		}
	}
	for _, p := range c.Products {
		if err := w.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("failed to save product %s: %w", p.ID, err)
		}
		if err := w.SaveActualMaterialComponents(ctx, p.ID, c.Actual[p.ID]); err != nil {
			return fmt.Errorf("failed to save components of %s: %w", p.ID, err)
		}
		if err := w.SaveProductComponents(ctx, p.ID, c.Authored[p.ID]); err != nil {
			return fmt.Errorf("failed to save components of %s: %w", p.ID, err)
		}
	}
	for _, r := range c.Rules {
		if err := w.SaveRule(ctx, r); err != nil {
			return fmt.Errorf("failed to save rule %s: %w", r.ID, err)
		}
	}
	return nil
}

func convertComponents(productID string, in []ProductComponentYAML) []engine.ProductComponent {
	out := make([]engine.ProductComponent, 0, len(in))
	for _, pc := range in {
		out = append(out, engine.ProductComponent{
			ProductID:       productID,
			ExpenseObjectID: pc.ExpenseObjectID,
			Unit:            pc.Unit,
			UnitPrice:       decimal.NewFromFloat(pc.UnitPrice),
			Quantity:        decimal.NewFromFloat(pc.Quantity),
		})
	}
	return out
}

// =============================================================================
// DEMO CATALOG
// =============================================================================

// DemoCatalogYAML seeds a window/door workshop.
const DemoCatalogYAML = `
components:
  - id: glass
    name: Float glass 4mm
  - id: frame-profile
    name: Aluminium frame profile
  - id: sealant
    name: Silicone sealant
  - id: install-labor
    name: Installation labor
  - id: screws
    name: Stainless screws

products:
  - id: window-standard
    name: Standard window
    category_id: windows
    unit_price: 180
    actual_material_components:
      - expense_object_id: glass
        unit: m2
        unit_price: 32
        quantity: 1.5
      - expense_object_id: frame-profile
        unit: m
        unit_price: 14
        quantity: 5
      - expense_object_id: sealant
        unit: tube
        unit_price: 6.5
        quantity: 1
      - expense_object_id: install-labor
        unit: h
        unit_price: 45
        quantity: 2
  - id: door-entry
    name: Entry door
    category_id: doors
    unit_price: 650
    product_components:
      - expense_object_id: frame-profile
        unit: m
        unit_price: 14
        quantity: 6
      - expense_object_id: screws
        unit: pcs
        unit_price: 0.2
        quantity: 24
      - expense_object_id: install-labor
        unit: h
        unit_price: 45
        quantity: 3

rules:
  - id: glass-area-growth
    name: More glass for larger panes
    component_id: glass
    dimension_type: area
    change_direction: increase
    change_type: percentage
    change_value: 20
    adjustment_type: percentage
    adjustment_value: 10
    max_adjustment_percentage: 30
    priority: 1
  - id: sealant-area-step
    name: Extra tube per full square meter
    component_id: sealant
    dimension_type: area
    change_direction: both
    change_type: absolute
    change_value: 1
    adjustment_type: absolute
    adjustment_value: 1
    max_adjustment_value: 3
    priority: 1
  - id: labor-economy-of-scale
    name: Less labor per unit on large panes
    component_id: install-labor
    dimension_type: area
    change_direction: decrease
    change_type: percentage
    change_value: 25
    adjustment_type: percentage
    adjustment_value: -10
    priority: 2
    allowed_category_ids: [windows]
  - id: screws-tall-doors
    name: More screws for tall doors
    component_id: screws
    dimension_type: height
    change_direction: increase
    change_type: absolute
    change_value: 200
    adjustment_type: absolute
    adjustment_value: 8
    priority: 1
    allowed_category_ids: [doors]
`
