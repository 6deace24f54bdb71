// Package store provides in-memory implementations of the engine's record store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/material-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.Catalog and engine.DocumentStore.
type Memory struct {
	mu        sync.RWMutex
	rules     map[string]engine.Rule
	products  map[string]engine.Product
	actual    map[string][]engine.ProductComponent
	authored  map[string][]engine.ProductComponent
	names     map[string]string
	documents map[string]engine.Document

	// RuleErr, when set, is returned by ListActiveRules.
	RuleErr error
}

func NewMemory() *Memory {
	return &Memory{
		rules:     make(map[string]engine.Rule),
		products:  make(map[string]engine.Product),
		actual:    make(map[string][]engine.ProductComponent),
		authored:  make(map[string][]engine.ProductComponent),
		names:     make(map[string]string),
		documents: make(map[string]engine.Document),
	}
}

// SaveRule adds or replaces a rule.
func (m *Memory) SaveRule(_ context.Context, r engine.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

// ListActiveRules returns active rules ordered by id.
func (m *Memory) ListActiveRules(_ context.Context) ([]engine.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.RuleErr != nil {
		return nil, m.RuleErr
	}
	var result []engine.Rule
	for _, r := range m.rules {
		if r.IsActive {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveProduct adds or replaces a product.
func (m *Memory) SaveProduct(_ context.Context, p engine.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

// SaveActualMaterialComponents replaces the curated bill-of-materials of a product.
func (m *Memory) SaveActualMaterialComponents(_ context.Context, productID string, comps []engine.ProductComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actual[productID] = append([]engine.ProductComponent(nil), comps...)
	return nil
}

// SaveProductComponents replaces the fallback bill-of-materials of a product.
func (m *Memory) SaveProductComponents(_ context.Context, productID string, comps []engine.ProductComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authored[productID] = append([]engine.ProductComponent(nil), comps...)
	return nil
}

// SaveComponentName sets the display name of a component.
func (m *Memory) SaveComponentName(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[id] = name
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (*engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, engine.ErrProductNotFound
	}
	return &p, nil
}

func (m *Memory) ActualMaterialComponents(_ context.Context, productID string) ([]engine.ProductComponent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.ProductComponent(nil), m.actual[productID]...), nil
}

func (m *Memory) ProductComponents(_ context.Context, productID string) ([]engine.ProductComponent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.ProductComponent(nil), m.authored[productID]...), nil
}

func (m *Memory) ComponentNames(_ context.Context, ids []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := m.names[id]; ok {
			result[id] = name
		}
	}
	return result, nil
}

// SaveDocument stores a deep copy of doc.
func (m *Memory) SaveDocument(_ context.Context, doc engine.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = copyDocument(doc)
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*engine.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, engine.ErrDocumentNotFound
	}
	out := copyDocument(doc)
	return &out, nil
}

func copyDocument(doc engine.Document) engine.Document {
	out := doc
	out.Lines = make([]engine.LineItem, len(doc.Lines))
	for i, l := range doc.Lines {
		out.Lines[i] = l.Clone()
	}
	return out
}
