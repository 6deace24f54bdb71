/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's decimal model from the external contract: numbers travel as
  JSON numbers, absent dimensions as null.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Rules:     factory.RuleJSON (stored representation, used as-is)
  Products:  ProductDTO, ProductComponentDTO, CreateProductRequest
  Sessions:  OpenSessionRequest, SessionDTO, PendingDTO
  Lines:     LineItemDTO, ComponentDTO, AddLineRequest, SetDimensionsRequest,
             SetUnitPriceRequest, SetComponentQuantityRequest, ApplyRequest
  Compute:   ComputeRequest
  Documents: DocumentDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/engine"
	"github.com/warp/material-engine/factory"
	"github.com/warp/material-engine/session"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductComponentDTO struct {
	ExpenseObjectID string  `json:"expense_object_id"`
	Name            string  `json:"name,omitempty"`
	Unit            string  `json:"unit"`
	UnitPrice       float64 `json:"unit_price"`
	Quantity        float64 `json:"quantity"`
}

// ProductDTO represents a product with both bill-of-materials lists.
type ProductDTO struct {
	ID                       string                `json:"id"`
	Name                     string                `json:"name"`
	CategoryID               string                `json:"category_id"`
	UnitPrice                float64               `json:"unit_price"`
	ActualMaterialComponents []ProductComponentDTO `json:"actual_material_components,omitempty"`
	ProductComponents        []ProductComponentDTO `json:"product_components,omitempty"`
}

// CreateProductRequest creates or replaces a product and its components.
type CreateProductRequest struct {
	ProductDTO
}

// =============================================================================
// SESSIONS AND LINES
// =============================================================================

// OpenSessionRequest opens an editing session. DocumentID resumes a saved one.
type OpenSessionRequest struct {
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id,omitempty"`
	Number     string `json:"number,omitempty"`
	Customer   string `json:"customer,omitempty"`
}

type PendingDTO struct {
	LineID    string `json:"line_id"`
	Dimension string `json:"dimension"`
}

type SessionDTO struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	DocumentID string        `json:"document_id"`
	Number     string        `json:"number,omitempty"`
	Customer   string        `json:"customer,omitempty"`
	Lines      []LineItemDTO `json:"lines"`
	TotalPrice float64       `json:"total_price"`
	Pending    []PendingDTO  `json:"pending"`
}

type ComponentDTO struct {
	ComponentID      string   `json:"component_id"`
	Name             string   `json:"name"`
	Unit             string   `json:"unit"`
	UnitPrice        float64  `json:"unit_price"`
	Quantity         float64  `json:"quantity"`
	TotalPrice       float64  `json:"total_price"`
	BaselineQuantity *float64 `json:"baseline_quantity"`
}

// LineItemDTO is one invoice or quote row. Dimensions are in mm, area in m²,
// volume in m³.
type LineItemDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id,omitempty"`
	CategoryID  string `json:"category_id,omitempty"`
	Description string `json:"description,omitempty"`

	Length *float64 `json:"length"`
	Height *float64 `json:"height"`
	Depth  *float64 `json:"depth"`
	Area   *float64 `json:"area"`
	Volume *float64 `json:"volume"`

	Quantity float64 `json:"quantity"`

	BaselineArea     *float64 `json:"baseline_area"`
	BaselineVolume   *float64 `json:"baseline_volume"`
	BaselineLength   *float64 `json:"baseline_length,omitempty"`
	BaselineHeight   *float64 `json:"baseline_height,omitempty"`
	BaselineDepth    *float64 `json:"baseline_depth,omitempty"`
	BaselineQuantity *float64 `json:"baseline_quantity,omitempty"`
	AreaIsManual     bool     `json:"area_is_manual"`
	VolumeIsManual   bool     `json:"volume_is_manual"`

	UnitPrice  float64        `json:"unit_price"`
	TotalPrice float64        `json:"total_price"`
	Components []ComponentDTO `json:"components"`
}

type AddLineRequest struct {
	ProductID string   `json:"product_id"`
	Quantity  *float64 `json:"quantity"` // default 1
}

// SetDimensionsRequest maps dimension names to values. A null value clears
// the dimension; absent keys are left alone.
type SetDimensionsRequest map[string]*float64

type SetUnitPriceRequest struct {
	UnitPrice float64 `json:"unit_price"`
}

type SetComponentQuantityRequest struct {
	Quantity float64 `json:"quantity"`
}

// ApplyRequest selects the apply-now scope. Both fields are optional.
type ApplyRequest struct {
	LineID    string `json:"line_id,omitempty"`
	Dimension string `json:"dimension,omitempty"`
}

// ComputeRequest runs one stateless dimension adjustment. Without rules the
// stored active rules are used.
type ComputeRequest struct {
	Line      LineItemDTO        `json:"line"`
	Dimension string             `json:"dimension"`
	OldValue  *float64           `json:"old_value"`
	NewValue  *float64           `json:"new_value"`
	Rules     []factory.RuleJSON `json:"rules,omitempty"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type DocumentDTO struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	Number     string        `json:"number,omitempty"`
	Customer   string        `json:"customer,omitempty"`
	Lines      []LineItemDTO `json:"lines"`
	TotalPrice float64       `json:"total_price"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProductComponentDTOs(comps []engine.ProductComponent, names map[string]string) []ProductComponentDTO {
	if len(comps) == 0 {
		return nil
	}
	out := make([]ProductComponentDTO, len(comps))
	for i, pc := range comps {
		out[i] = ProductComponentDTO{
			ExpenseObjectID: pc.ExpenseObjectID,
			Name:            names[pc.ExpenseObjectID],
			Unit:            pc.Unit,
			UnitPrice:       pc.UnitPrice.InexactFloat64(),
			Quantity:        pc.Quantity.InexactFloat64(),
		}
	}
	return out
}

func fromProductComponentDTOs(productID string, in []ProductComponentDTO) []engine.ProductComponent {
	out := make([]engine.ProductComponent, len(in))
	for i, pc := range in {
		out[i] = engine.ProductComponent{
			ProductID:       productID,
			ExpenseObjectID: pc.ExpenseObjectID,
			Unit:            pc.Unit,
			UnitPrice:       decimal.NewFromFloat(pc.UnitPrice),
			Quantity:        decimal.NewFromFloat(pc.Quantity),
		}
	}
	return out
}

func toLineItemDTO(l engine.LineItem) LineItemDTO {
	dto := LineItemDTO{
		ID:               l.ID,
		ProductID:        l.ProductID,
		CategoryID:       l.CategoryID,
		Description:      l.Description,
		Length:           floatPtr(l.Length),
		Height:           floatPtr(l.Height),
		Depth:            floatPtr(l.Depth),
		Area:             floatPtr(l.Area),
		Volume:           floatPtr(l.Volume),
		Quantity:         l.Quantity.InexactFloat64(),
		BaselineArea:     floatPtr(l.BaselineArea),
		BaselineVolume:   floatPtr(l.BaselineVolume),
		BaselineLength:   floatPtr(l.BaselineLength),
		BaselineHeight:   floatPtr(l.BaselineHeight),
		BaselineDepth:    floatPtr(l.BaselineDepth),
		BaselineQuantity: floatPtr(l.BaselineQuantity),
		AreaIsManual:     l.AreaIsManual,
		VolumeIsManual:   l.VolumeIsManual,
		UnitPrice:        l.UnitPrice.InexactFloat64(),
		TotalPrice:       l.TotalPrice.InexactFloat64(),
		Components:       make([]ComponentDTO, len(l.Components)),
	}
	for i, c := range l.Components {
		dto.Components[i] = ComponentDTO{
			ComponentID:      c.ComponentID,
			Name:             c.Name,
			Unit:             c.Unit,
			UnitPrice:        c.UnitPrice.InexactFloat64(),
			Quantity:         c.Quantity.InexactFloat64(),
			TotalPrice:       c.TotalPrice.InexactFloat64(),
			BaselineQuantity: floatPtr(c.BaselineQuantity),
		}
	}
	return dto
}

func toLineItemDTOs(lines []engine.LineItem) []LineItemDTO {
	out := make([]LineItemDTO, len(lines))
	for i, l := range lines {
		out[i] = toLineItemDTO(l)
	}
	return out
}

// fromLineItemDTO rejects non-finite numbers. JSON cannot carry them, but
// callers may build DTOs in code.
func fromLineItemDTO(dto LineItemDTO) (engine.LineItem, error) {
	l := engine.LineItem{
		ID:             dto.ID,
		ProductID:      dto.ProductID,
		CategoryID:     dto.CategoryID,
		Description:    dto.Description,
		Quantity:       decimal.NewFromFloat(dto.Quantity),
		AreaIsManual:   dto.AreaIsManual,
		VolumeIsManual: dto.VolumeIsManual,
		UnitPrice:      decimal.NewFromFloat(dto.UnitPrice),
		TotalPrice:     decimal.NewFromFloat(dto.TotalPrice),
	}

	fields := []struct {
		name string
		in   *float64
		out  *decimal.NullDecimal
	}{
		{"length", dto.Length, &l.Length},
		{"height", dto.Height, &l.Height},
		{"depth", dto.Depth, &l.Depth},
		{"area", dto.Area, &l.Area},
		{"volume", dto.Volume, &l.Volume},
		{"baseline_area", dto.BaselineArea, &l.BaselineArea},
		{"baseline_volume", dto.BaselineVolume, &l.BaselineVolume},
		{"baseline_length", dto.BaselineLength, &l.BaselineLength},
		{"baseline_height", dto.BaselineHeight, &l.BaselineHeight},
		{"baseline_depth", dto.BaselineDepth, &l.BaselineDepth},
		{"baseline_quantity", dto.BaselineQuantity, &l.BaselineQuantity},
	}
	for _, f := range fields {
		v, ok := engine.FromFloatPtr(f.in)
		if !ok {
			return engine.LineItem{}, fmt.Errorf("%w: %s is not a finite number", engine.ErrInvalidValue, f.name)
		}
		*f.out = v
	}

	for _, c := range dto.Components {
		baseline, ok := engine.FromFloatPtr(c.BaselineQuantity)
		if !ok {
			return engine.LineItem{}, fmt.Errorf("%w: baseline_quantity of %s is not a finite number", engine.ErrInvalidValue, c.ComponentID)
		}
		l.Components = append(l.Components, engine.ComponentLine{
			ComponentID:      c.ComponentID,
			Name:             c.Name,
			Unit:             c.Unit,
			UnitPrice:        decimal.NewFromFloat(c.UnitPrice),
			Quantity:         decimal.NewFromFloat(c.Quantity),
			TotalPrice:       decimal.NewFromFloat(c.TotalPrice),
			BaselineQuantity: baseline,
		})
	}
	return l, nil
}

func toSessionDTO(s *session.Session) SessionDTO {
	pending := s.Pending()
	dto := SessionDTO{
		ID:         s.ID,
		Kind:       string(s.Kind),
		DocumentID: s.DocumentID,
		Number:     s.Number,
		Customer:   s.Customer,
		Lines:      toLineItemDTOs(s.Lines()),
		TotalPrice: s.Total().InexactFloat64(),
		Pending:    make([]PendingDTO, len(pending)),
	}
	for i, k := range pending {
		dto.Pending[i] = PendingDTO{LineID: k.LineID, Dimension: string(k.Dimension)}
	}
	return dto
}

func toDocumentDTO(doc engine.Document) DocumentDTO {
	return DocumentDTO{
		ID:         doc.ID,
		Kind:       string(doc.Kind),
		Number:     doc.Number,
		Customer:   doc.Customer,
		Lines:      toLineItemDTOs(doc.Lines),
		TotalPrice: doc.TotalPrice.InexactFloat64(),
	}
}

func floatPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}
