/*
scenarios.go - Demo catalog loader for testing and demonstrations

PURPOSE:

	Populates the database with a small window/door workshop so the editing
	flow can be tried without authoring data first.

AVAILABLE SCENARIOS:

	demo: factory.DemoCatalogYAML (two products, five components, four rules)

HOW IT WORKS:
 1. Close every open session (their rule indexes would be stale)
 2. Reset database (clear all data)
 3. Parse the catalog via factory
 4. Write products, components, names and rules

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/demo

NOTE:

	Loading resets the database. Only use in development/demo environments.

SEE ALSO:
  - factory/catalog.go: Catalog format and demo data
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/material-engine/factory"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Window & Door Workshop",
		Description: "Windows with measured materials, doors with authored components, area and height rules",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadDemoScenario resets the database and loads the demo catalog.
func (h *Handler) LoadDemoScenario(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.loadCatalog(r.Context(), factory.DemoCatalogYAML)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": "demo",
		"products": len(catalog.Products),
		"rules":    len(catalog.Rules),
	})
}

func (h *Handler) loadCatalog(ctx context.Context, yamlData string) (*factory.Catalog, error) {
	catalog, err := factory.ParseCatalog([]byte(yamlData))
	if err != nil {
		return nil, err
	}

	if closed := h.Sessions.CloseAll(); closed > 0 {
		h.Log.Info("closed sessions before reset", "sessions", closed)
	}
	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset database: %w", err)
	}
	if err := catalog.Apply(ctx, h.Store); err != nil {
		return nil, err
	}

	h.Log.Info("catalog loaded", "products", len(catalog.Products), "rules", len(catalog.Rules))
	return catalog, nil
}
