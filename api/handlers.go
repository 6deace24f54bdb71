/*
handlers.go - HTTP API handlers for the material adjustment engine

PURPOSE:
  Exposes rules, the product catalog and editing sessions via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  session and engine packages.

ENDPOINTS:
  Rules:
    GET    /api/rules                   List all rules
    POST   /api/rules                   Create rule from JSON
    GET    /api/rules/{id}              Get rule
    PUT    /api/rules/{id}              Replace rule
    DELETE /api/rules/{id}              Delete rule

  Products:
    GET    /api/products                List products
    POST   /api/products                Create/replace product with components
    GET    /api/products/{id}           Get product with components

  Sessions:
    POST   /api/sessions                Open invoice/quote session
    GET    /api/sessions/{id}           Session with lines and pending passes
    DELETE /api/sessions/{id}           Close session
    GET    /api/sessions/{id}/lines     List lines
    POST   /api/sessions/{id}/lines     Add product line
    GET    /api/sessions/{id}/lines/{lineID}
    DELETE /api/sessions/{id}/lines/{lineID}
    PUT    /api/sessions/{id}/lines/{lineID}/dimensions
    PUT    /api/sessions/{id}/lines/{lineID}/unit-price
    PUT    /api/sessions/{id}/lines/{lineID}/components/{index}
    POST   /api/sessions/{id}/apply     Apply rules now (line_id optional)
    POST   /api/sessions/{id}/save      Save as document

  Stateless:
    POST   /api/compute                 One dimension adjustment, no session
    GET    /api/documents/{id}          Saved document

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Sessions: Open editing sessions
  - Config: Debounce and auto-calculation settings for new sessions

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, closed session
  - 404: Resource not found
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo catalog loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/config"
	"github.com/warp/material-engine/engine"
	"github.com/warp/material-engine/factory"
	"github.com/warp/material-engine/logger"
	"github.com/warp/material-engine/session"
	"github.com/warp/material-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Sessions *session.Registry
	Config   config.Config
	Log      *logger.Logger
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, cfg config.Config, log *logger.Logger) *Handler {
	return &Handler{
		Store:    store,
		Sessions: session.NewRegistry(),
		Config:   cfg,
		Log:      logger.OrNop(log),
	}
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns every rule, active or not.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = factory.RuleToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule validates and stores a new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	rule, err := factory.RuleFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}
	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create rule", err)
		return
	}

	h.Log.Info("rule created", "rule_id", rule.ID, "component_id", rule.ComponentID, "dimension", rule.Dimension)
	writeJSON(w, http.StatusCreated, factory.RuleToJSON(rule))
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.RuleToJSON(*rule))
}

// UpdateRule replaces an existing rule. The path id wins over the body.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetRule(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get rule", err)
		return
	}

	var req factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = id

	rule, err := factory.RuleFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}
	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.RuleToJSON(rule))
}

// DeleteRule removes a rule. Open sessions keep the index they loaded.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products without their components.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = ProductDTO{
			ID:         p.ID,
			Name:       p.Name,
			CategoryID: p.CategoryID,
			UnitPrice:  p.UnitPrice.InexactFloat64(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct creates or replaces a product and both component lists.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Product id and name are required", nil)
		return
	}

	ctx := r.Context()
	product := engine.Product{
		ID:         req.ID,
		Name:       req.Name,
		CategoryID: req.CategoryID,
		UnitPrice:  decimal.NewFromFloat(req.UnitPrice),
	}
	if err := h.Store.SaveProduct(ctx, product); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create product", err)
		return
	}
	if err := h.Store.SaveActualMaterialComponents(ctx, product.ID, fromProductComponentDTOs(product.ID, req.ActualMaterialComponents)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save material components", err)
		return
	}
	if err := h.Store.SaveProductComponents(ctx, product.ID, fromProductComponentDTOs(product.ID, req.ProductComponents)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product components", err)
		return
	}

	h.writeProduct(w, r, product.ID, http.StatusCreated)
}

// GetProduct returns a product with its components and their names.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	h.writeProduct(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (h *Handler) writeProduct(w http.ResponseWriter, r *http.Request, id string, status int) {
	ctx := r.Context()
	p, err := h.Store.GetProduct(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get product", err)
		return
	}
	actual, err := h.Store.ActualMaterialComponents(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load material components", err)
		return
	}
	authored, err := h.Store.ProductComponents(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load product components", err)
		return
	}

	var ids []string
	for _, pc := range append(append([]engine.ProductComponent(nil), actual...), authored...) {
		ids = append(ids, pc.ExpenseObjectID)
	}
	names, err := h.Store.ComponentNames(ctx, ids)
	if err != nil {
		h.Log.Warn("failed to resolve component names", "product_id", id, "error", err)
	}

	writeJSON(w, status, ProductDTO{
		ID:                       p.ID,
		Name:                     p.Name,
		CategoryID:               p.CategoryID,
		UnitPrice:                p.UnitPrice.InexactFloat64(),
		ActualMaterialComponents: toProductComponentDTOs(actual, names),
		ProductComponents:        toProductComponentDTOs(authored, names),
	})
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// OpenSession starts an editing session with the server's debounce settings.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := session.Open(r.Context(), session.Deps{Catalog: h.Store, Documents: h.Store}, session.Options{
		Kind:               engine.DocumentKind(req.Kind),
		DocumentID:         req.DocumentID,
		Number:             req.Number,
		Customer:           req.Customer,
		Debounce:           h.Config.Debounce,
		AutoCalcDimensions: h.Config.AutoCalcDimensions,
		Log:                h.Log,
	})
	if err != nil {
		writeDomainError(w, "Failed to open session", err)
		return
	}
	h.Sessions.Add(s)

	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

// GetSession returns the session with its lines and pending passes.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// CloseSession cancels pending passes and forgets the session. Unsaved lines
// are lost.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLines returns the session's lines in order.
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTOs(s.Lines()))
}

// AddLine adds a product line.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AddLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	quantity := decimal.NewFromInt(1)
	if req.Quantity != nil {
		quantity = decimal.NewFromFloat(*req.Quantity)
	}

	line, err := s.AddProduct(r.Context(), req.ProductID, quantity)
	if err != nil {
		writeDomainError(w, "Failed to add line", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(line))
}

// GetLine returns one line.
func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	line, err := s.Line(chi.URLParam(r, "lineID"))
	if err != nil {
		writeDomainError(w, "Failed to get line", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(line))
}

// RemoveLine drops a line and its pending passes.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RemoveLine(chi.URLParam(r, "lineID")); err != nil {
		writeDomainError(w, "Failed to remove line", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDimensions applies one or more dimension edits in canonical order. The
// response shows derived values; rule passes may still be pending.
func (h *Handler) SetDimensions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SetDimensionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	for name := range req {
		if !engine.Dimension(name).Valid() {
			writeError(w, http.StatusBadRequest, "Unknown dimension", fmt.Errorf("%w: %q", engine.ErrInvalidDimension, name))
			return
		}
	}

	lineID := chi.URLParam(r, "lineID")
	line, err := s.Line(lineID)
	if err != nil {
		writeDomainError(w, "Failed to get line", err)
		return
	}

	// length and height before area, so a typed area is not derived away
	order := []engine.Dimension{
		engine.DimensionLength, engine.DimensionHeight, engine.DimensionDepth,
		engine.DimensionQuantity, engine.DimensionArea, engine.DimensionVolume,
	}
	for _, dim := range order {
		raw, present := req[string(dim)]
		if !present {
			continue
		}
		value, finite := engine.FromFloatPtr(raw)
		if !finite {
			continue
		}
		line, err = s.SetDimension(lineID, dim, value)
		if err != nil {
			writeDomainError(w, "Failed to set "+string(dim), err)
			return
		}
	}

	writeJSON(w, http.StatusOK, toLineItemDTO(line))
}

// SetUnitPrice changes a line's own price.
func (h *Handler) SetUnitPrice(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SetUnitPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := s.SetUnitPrice(chi.URLParam(r, "lineID"), decimal.NewFromFloat(req.UnitPrice))
	if err != nil {
		writeDomainError(w, "Failed to set unit price", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(line))
}

// SetComponentQuantity records a manual component quantity.
func (h *Handler) SetComponentQuantity(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid component index", err)
		return
	}
	var req SetComponentQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := s.SetComponentQuantity(chi.URLParam(r, "lineID"), index, decimal.NewFromFloat(req.Quantity))
	if err != nil {
		writeDomainError(w, "Failed to set component quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(line))
}

// ApplyNow runs the rules immediately, cancelling pending passes in scope.
// An empty body applies every line.
func (h *Handler) ApplyNow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ApplyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	lines, err := s.ApplyNow(session.Scope{LineID: req.LineID, Dimension: engine.Dimension(req.Dimension)})
	if err != nil {
		writeDomainError(w, "Failed to apply rules", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTOs(lines))
}

// SaveSession writes the session's lines as a document.
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	doc, err := s.Save(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to save document", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// =============================================================================
// STATELESS HANDLERS
// =============================================================================

// Compute runs a single dimension adjustment on a line supplied by the caller.
func (h *Handler) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dim := engine.Dimension(req.Dimension)
	if !dim.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown dimension", fmt.Errorf("%w: %q", engine.ErrInvalidDimension, req.Dimension))
		return
	}
	line, err := fromLineItemDTO(req.Line)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line", err)
		return
	}
	oldValue, okOld := engine.FromFloatPtr(req.OldValue)
	newValue, okNew := engine.FromFloatPtr(req.NewValue)
	if !okOld || !okNew {
		writeError(w, http.StatusBadRequest, "Values must be finite numbers", engine.ErrInvalidValue)
		return
	}

	var idx engine.RuleIndex
	if len(req.Rules) > 0 {
		rules := make([]engine.Rule, 0, len(req.Rules))
		for _, rj := range req.Rules {
			rule, err := factory.RuleFromJSON(rj)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid rule", err)
				return
			}
			rules = append(rules, rule)
		}
		idx = engine.NewRuleIndex(rules...)
	} else {
		idx = engine.LoadRuleIndex(r.Context(), h.Store, h.Log)
	}

	adjusted := engine.NewAdjuster(idx, h.Log).ApplyMaterialAdjustmentRules(line, dim, oldValue, newValue)
	writeJSON(w, http.StatusOK, toLineItemDTO(adjusted))
}

// GetDocument returns a saved document.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get document", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(*doc))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Session not found", err)
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to a status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
