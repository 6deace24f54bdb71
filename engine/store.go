/*
store.go - Interfaces the engine and sessions need from the record store

PURPOSE:
  Persistence is an external collaborator. These interfaces are the whole
  contract; any record store (SQLite, in-memory, a hosted backend) that can
  answer these queries can back an editing session.

KEY INTERFACES:
  RuleSource:          active adjustment rules
  ProductSource:       products and their authored bill-of-materials
  ComponentNameSource: display names for component ids
  DocumentStore:       invoice/quote persistence

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite
*/
package engine

import "context"

// RuleSource returns every rule whose is_active flag is set.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
}

// ProductSource resolves products and their bill-of-materials.
//
// Two component lists exist per product. ActualMaterialComponents is the
// curated list and is preferred; ProductComponents is the fallback.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	ActualMaterialComponents(ctx context.Context, productID string) ([]ProductComponent, error)
	ProductComponents(ctx context.Context, productID string) ([]ProductComponent, error)
}

// ComponentNameSource resolves human-readable names. Missing ids are simply
// absent from the result.
type ComponentNameSource interface {
	ComponentNames(ctx context.Context, ids []string) (map[string]string, error)
}

// DocumentStore persists invoices and quotes.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
}

// Catalog is everything a session reads.
type Catalog interface {
	RuleSource
	ProductSource
	ComponentNameSource
}
