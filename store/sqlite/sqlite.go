/*
Package sqlite provides a SQLite-backed implementation of the engine's stores.

PURPOSE:
  Persists adjustment rules, the product catalog and saved documents. The
  same schema ports to PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  engine.RuleSource:          Active rules for a session's rule index
  engine.ProductSource:       Products and their bill-of-materials
  engine.ComponentNameSource: Display names of expense objects
  engine.DocumentStore:       Saved invoices and quotes
  factory.CatalogWriter:      Seeding from a YAML catalog

KEY TABLES:
  adjustment_rules:           One row per rule, decimals as TEXT
  products:                   Sellable items
  product_components:         Authored bill-of-materials, ordered by position
  actual_material_components: Measured bill-of-materials, preferred when present
  expense_objects:            Component id -> display name
  documents:                  Invoice/quote headers
  document_items:             One JSON-encoded line item per row

DECIMALS:
  Stored as their exact string form and parsed back with shopspring/decimal,
  so no precision is lost on a round trip.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode.

USAGE:
  store, err := sqlite.New("./data/material.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/engine"
)

// Store implements the engine's storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is its own database
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS adjustment_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		component_id TEXT NOT NULL,
		dimension_type TEXT NOT NULL,
		change_direction TEXT NOT NULL,
		change_type TEXT NOT NULL,
		change_value TEXT NOT NULL,
		adjustment_type TEXT NOT NULL,
		adjustment_value TEXT NOT NULL,
		max_adjustment_percentage TEXT,
		max_adjustment_value TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		allowed_category_ids TEXT NOT NULL DEFAULT '[]',
		inverse INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Rule index load (hot path on every session open)
	CREATE INDEX IF NOT EXISTS idx_rules_active_component
		ON adjustment_rules(is_active, component_id, dimension_type);

	CREATE TABLE IF NOT EXISTS expense_objects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS product_components (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		expense_object_id TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (product_id, position)
	);

	CREATE TABLE IF NOT EXISTS actual_material_components (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		expense_object_id TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		PRIMARY KEY (product_id, position)
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('invoice', 'quote')),
		number TEXT NOT NULL DEFAULT '',
		customer TEXT NOT NULL DEFAULT '',
		total_price TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_items (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		line_id TEXT NOT NULL,
		item_json TEXT NOT NULL,
		PRIMARY KEY (document_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, name, component_id, dimension_type, change_direction, change_type,
	change_value, adjustment_type, adjustment_value, max_adjustment_percentage,
	max_adjustment_value, priority, allowed_category_ids, inverse, is_active`

// SaveRule inserts or replaces a rule.
func (s *Store) SaveRule(ctx context.Context, r engine.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categories, err := json.Marshal(nonNilStrings(r.AllowedCategoryIDs))
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	query := `
		INSERT INTO adjustment_rules (` + ruleColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			component_id = excluded.component_id,
			dimension_type = excluded.dimension_type,
			change_direction = excluded.change_direction,
			change_type = excluded.change_type,
			change_value = excluded.change_value,
			adjustment_type = excluded.adjustment_type,
			adjustment_value = excluded.adjustment_value,
			max_adjustment_percentage = excluded.max_adjustment_percentage,
			max_adjustment_value = excluded.max_adjustment_value,
			priority = excluded.priority,
			allowed_category_ids = excluded.allowed_category_ids,
			inverse = excluded.inverse,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.ComponentID, string(r.Dimension), string(r.ChangeDirection), string(r.ChangeType),
		r.ChangeValue.String(), string(r.AdjustmentType), r.AdjustmentValue.String(),
		nullDecimal(r.MaxAdjustmentPercentage), nullDecimal(r.MaxAdjustmentValue),
		r.Priority, string(categories), r.Inverse, r.IsActive,
		now, now,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM adjustment_rules WHERE id = ?", id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", engine.ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns every rule, active or not, by priority then id.
func (s *Store) ListRules(ctx context.Context) ([]engine.Rule, error) {
	return s.queryRules(ctx, "SELECT "+ruleColumns+" FROM adjustment_rules ORDER BY priority, id")
}

// ListActiveRules returns the rules a session indexes.
func (s *Store) ListActiveRules(ctx context.Context) ([]engine.Rule, error) {
	return s.queryRules(ctx,
		"SELECT "+ruleColumns+" FROM adjustment_rules WHERE is_active = 1 ORDER BY priority, id")
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM adjustment_rules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", engine.ErrRuleNotFound, id)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []engine.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (engine.Rule, error) {
	var r engine.Rule
	var dimension, direction, changeType, adjustmentType string
	var changeValue, adjustmentValue, categories string
	var maxPct, maxValue sql.NullString

	err := row.Scan(
		&r.ID, &r.Name, &r.ComponentID, &dimension, &direction, &changeType,
		&changeValue, &adjustmentType, &adjustmentValue, &maxPct,
		&maxValue, &r.Priority, &categories, &r.Inverse, &r.IsActive,
	)
	if err != nil {
		return engine.Rule{}, err
	}

	r.Dimension = engine.Dimension(dimension)
	r.ChangeDirection = engine.Direction(direction)
	r.ChangeType = engine.Measure(changeType)
	r.AdjustmentType = engine.Measure(adjustmentType)
	if r.ChangeValue, err = decimal.NewFromString(changeValue); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: bad change_value: %w", r.ID, err)
	}
	if r.AdjustmentValue, err = decimal.NewFromString(adjustmentValue); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: bad adjustment_value: %w", r.ID, err)
	}
	if r.MaxAdjustmentPercentage, err = parseNullDecimal(maxPct); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: bad max_adjustment_percentage: %w", r.ID, err)
	}
	if r.MaxAdjustmentValue, err = parseNullDecimal(maxValue); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: bad max_adjustment_value: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(categories), &r.AllowedCategoryIDs); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: bad allowed_category_ids: %w", r.ID, err)
	}
	if len(r.AllowedCategoryIDs) == 0 {
		r.AllowedCategoryIDs = nil
	}
	return r, nil
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

// SaveProduct inserts or replaces a product.
func (s *Store) SaveProduct(ctx context.Context, p engine.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, name, category_id, unit_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category_id = excluded.category_id,
			unit_price = excluded.unit_price,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.CategoryID, p.UnitPrice.String(), now, now)
	return err
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id string) (*engine.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT id, name, category_id, unit_price FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", engine.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns all products ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]engine.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, category_id, unit_price FROM products ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []engine.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row scanner) (engine.Product, error) {
	var p engine.Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &price); err != nil {
		return engine.Product{}, err
	}
	var err error
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return engine.Product{}, fmt.Errorf("product %s: bad unit_price: %w", p.ID, err)
	}
	return p, nil
}

// SaveActualMaterialComponents replaces the measured bill-of-materials.
func (s *Store) SaveActualMaterialComponents(ctx context.Context, productID string, comps []engine.ProductComponent) error {
	return s.replaceComponents(ctx, "actual_material_components", productID, comps)
}

// SaveProductComponents replaces the authored bill-of-materials.
func (s *Store) SaveProductComponents(ctx context.Context, productID string, comps []engine.ProductComponent) error {
	return s.replaceComponents(ctx, "product_components", productID, comps)
}

// ActualMaterialComponents returns the measured bill-of-materials in order.
func (s *Store) ActualMaterialComponents(ctx context.Context, productID string) ([]engine.ProductComponent, error) {
	return s.queryComponents(ctx, "actual_material_components", productID)
}

// ProductComponents returns the authored bill-of-materials in order.
func (s *Store) ProductComponents(ctx context.Context, productID string) ([]engine.ProductComponent, error) {
	return s.queryComponents(ctx, "product_components", productID)
}

// table is one of the two component tables, never user input.
func (s *Store) replaceComponents(ctx context.Context, table, productID string, comps []engine.ProductComponent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE product_id = ?", productID); err != nil {
			return err
		}
		for i, pc := range comps {
			if err := insertComponent(ctx, tx, table, productID, i, pc); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertComponent(ctx context.Context, db execer, table, productID string, position int, pc engine.ProductComponent) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO "+table+" (product_id, position, expense_object_id, unit, unit_price, quantity) VALUES (?, ?, ?, ?, ?, ?)",
		productID, position, pc.ExpenseObjectID, pc.Unit, pc.UnitPrice.String(), pc.Quantity.String(),
	)
	return err
}

func (s *Store) queryComponents(ctx context.Context, table, productID string) ([]engine.ProductComponent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT expense_object_id, unit, unit_price, quantity FROM "+table+" WHERE product_id = ? ORDER BY position",
		productID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comps []engine.ProductComponent
	for rows.Next() {
		pc := engine.ProductComponent{ProductID: productID}
		var price, qty string
		if err := rows.Scan(&pc.ExpenseObjectID, &pc.Unit, &price, &qty); err != nil {
			return nil, err
		}
		if pc.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("component %s: bad unit_price: %w", pc.ExpenseObjectID, err)
		}
		if pc.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("component %s: bad quantity: %w", pc.ExpenseObjectID, err)
		}
		comps = append(comps, pc)
	}
	return comps, rows.Err()
}

// SaveComponentName records an expense object's display name.
func (s *Store) SaveComponentName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO expense_objects (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name",
		id, name,
	)
	return err
}

// ComponentNames resolves display names. Unknown ids are absent from the map.
func (s *Store) ComponentNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM expense_objects WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// SaveDocument writes a document header and replaces its items.
func (s *Store) SaveDocument(ctx context.Context, doc engine.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, kind, number, customer, total_price, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				number = excluded.number,
				customer = excluded.customer,
				total_price = excluded.total_price,
				updated_at = excluded.updated_at
		`, doc.ID, string(doc.Kind), doc.Number, doc.Customer, doc.TotalPrice.String(), now, now)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM document_items WHERE document_id = ?", doc.ID); err != nil {
			return err
		}
		for i, l := range doc.Lines {
			item, err := json.Marshal(l)
			if err != nil {
				return fmt.Errorf("failed to encode line %s: %w", l.ID, err)
			}
			_, err = tx.ExecContext(ctx,
				"INSERT INTO document_items (document_id, position, line_id, item_json) VALUES (?, ?, ?, ?)",
				doc.ID, i, l.ID, string(item),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDocument loads a document with its items in order.
func (s *Store) GetDocument(ctx context.Context, id string) (*engine.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc engine.Document
	var kind, total string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, kind, number, customer, total_price FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &kind, &doc.Number, &doc.Customer, &total)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", engine.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	doc.Kind = engine.DocumentKind(kind)
	if doc.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("document %s: bad total_price: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT item_json FROM document_items WHERE document_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, err
		}
		var l engine.LineItem
		if err := json.Unmarshal([]byte(item), &l); err != nil {
			return nil, fmt.Errorf("document %s: bad item: %w", id, err)
		}
		doc.Lines = append(doc.Lines, l)
	}
	return &doc, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"document_items", "documents",
		"actual_material_components", "product_components", "products",
		"expense_objects", "adjustment_rules",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
