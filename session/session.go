/*
Package session holds the state of one invoice or quote being edited.

PURPOSE:
  The engine is pure: it takes a line and returns a new one. A Session owns
  the mutable side: the ordered line items, the rule index loaded when the
  session opens, and the timers that delay rule passes until the user stops
  typing.

TRIGGER GRAPH:
  SetDimension(length|height|depth)
      -> DeriveDimensions (if auto-calc) -> totals
      -> schedule rule pass for the edited dimension
      -> schedule rule pass for area/volume when they changed
  SetDimension(area|volume)
      -> manual pin -> totals -> schedule rule pass
  SetDimension(quantity)
      -> ScaleToQuantity -> DeriveDimensions (if auto-calc) -> totals
      -> drop the line's pending passes -> schedule ApplyAll for the line
  ApplyNow(scope)
      -> cancel pending passes in scope -> ApplyAll per line

  Pending passes are keyed per (line, dimension); a new edit to the same key
  restarts its timer.

CONCURRENCY:
  All state is guarded by one mutex. Timer callbacks take the same mutex, so a
  pass never overlaps an edit.

SEE ALSO:
  - debounce.go: PendingTimers
  - engine/orchestrator.go: the passes themselves
*/
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/material-engine/engine"
	"github.com/warp/material-engine/logger"
)

// Deps are the stores a session reads from and writes to.
type Deps struct {
	Catalog   engine.Catalog
	Documents engine.DocumentStore
}

// Options configure a new session.
type Options struct {
	Kind engine.DocumentKind

	// DocumentID resumes editing a saved document when it exists in
	// Deps.Documents. Empty starts a new document.
	DocumentID string
	Number     string
	Customer   string

	// Debounce delays rule passes after dimension edits. Zero applies them
	// synchronously.
	Debounce           time.Duration
	AutoCalcDimensions bool

	Log *logger.Logger
}

// Scope selects what ApplyNow recomputes.
type Scope struct {
	LineID    string           // empty: every line
	Dimension engine.Dimension // empty: every dimension, measured from baseline
}

// Session is one open invoice or quote.
type Session struct {
	ID         string
	Kind       engine.DocumentKind
	DocumentID string
	Number     string
	Customer   string
	OpenedAt   time.Time

	mu       sync.Mutex
	deps     Deps
	adjuster *engine.Adjuster
	timers   *PendingTimers
	autoCalc bool
	lines    []engine.LineItem
	closed   bool
	touched  time.Time
	log      *logger.Logger
}

// Open starts an editing session. Rules are loaded once; a failing rule
// source leaves the session usable with adjustments disabled.
func Open(ctx context.Context, deps Deps, opts Options) (*Session, error) {
	kind := opts.Kind
	if kind == "" {
		kind = engine.KindQuote
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown document kind %q", engine.ErrInvalidValue, kind)
	}

	s := &Session{
		ID:         uuid.NewString(),
		Kind:       kind,
		DocumentID: opts.DocumentID,
		Number:     opts.Number,
		Customer:   opts.Customer,
		OpenedAt:   time.Now(),
		deps:       deps,
		touched:    time.Now(),
		autoCalc:   opts.AutoCalcDimensions,
	}
	s.log = logger.OrNop(opts.Log).With("session_id", s.ID)
	s.timers = NewPendingTimers(opts.Debounce, &s.mu)

	if opts.DocumentID != "" && deps.Documents != nil {
		doc, err := deps.Documents.GetDocument(ctx, opts.DocumentID)
		switch {
		case err == nil:
			s.Kind = doc.Kind
			s.Number = orDefault(opts.Number, doc.Number)
			s.Customer = orDefault(opts.Customer, doc.Customer)
			for _, l := range doc.Lines {
				s.lines = append(s.lines, l.Clone())
			}
		case engine.IsNotFound(err):
			// new document under a caller-chosen id
		default:
			return nil, fmt.Errorf("failed to load document %s: %w", opts.DocumentID, err)
		}
	}
	if s.DocumentID == "" {
		s.DocumentID = uuid.NewString()
	}

	var rules engine.RuleSource
	if deps.Catalog != nil {
		rules = deps.Catalog
	}
	idx := engine.LoadRuleIndex(ctx, rules, s.log)
	s.adjuster = engine.NewAdjuster(idx, s.log)

	s.log.Info("session opened",
		"kind", s.Kind,
		"document_id", s.DocumentID,
		"lines", len(s.lines),
		"rule_keys", idx.Len(),
		"debounce", opts.Debounce.String(),
	)
	return s, nil
}

// =============================================================================
// LINES
// =============================================================================

// AddProduct appends a line for a product. Components come from the product's
// actual material list, or its authored list when that is empty.
func (s *Session) AddProduct(ctx context.Context, productID string, quantity decimal.Decimal) (engine.LineItem, error) {
	if err := s.checkOpen(); err != nil {
		return engine.LineItem{}, err
	}
	if !quantity.IsPositive() {
		return engine.LineItem{}, fmt.Errorf("%w: quantity must be positive", engine.ErrInvalidValue)
	}
	if s.deps.Catalog == nil {
		return engine.LineItem{}, fmt.Errorf("%w: %s", engine.ErrProductNotFound, productID)
	}

	product, err := s.deps.Catalog.GetProduct(ctx, productID)
	if err != nil {
		return engine.LineItem{}, err
	}
	comps, err := s.deps.Catalog.ActualMaterialComponents(ctx, productID)
	if err != nil {
		return engine.LineItem{}, fmt.Errorf("failed to load material components of %s: %w", productID, err)
	}
	if len(comps) == 0 {
		comps, err = s.deps.Catalog.ProductComponents(ctx, productID)
		if err != nil {
			return engine.LineItem{}, fmt.Errorf("failed to load product components of %s: %w", productID, err)
		}
	}

	ids := make([]string, 0, len(comps))
	for _, pc := range comps {
		ids = append(ids, pc.ExpenseObjectID)
	}
	names, err := s.deps.Catalog.ComponentNames(ctx, ids)
	if err != nil {
		s.log.Warn("failed to resolve component names", "product_id", productID, "error", err)
		names = nil
	}

	line := engine.LineItem{
		ID:          uuid.NewString(),
		ProductID:   product.ID,
		CategoryID:  product.CategoryID,
		Description: product.Name,
		Quantity:    quantity,
		UnitPrice:   product.UnitPrice,
	}
	for _, pc := range comps {
		name := names[pc.ExpenseObjectID]
		if name == "" {
			name = pc.ExpenseObjectID
		}
		line.Components = append(line.Components, engine.ComponentLine{
			ComponentID: pc.ExpenseObjectID,
			Name:        name,
			Unit:        pc.Unit,
			UnitPrice:   pc.UnitPrice,
			Quantity:    pc.Quantity.Mul(quantity),
		})
	}
	line = engine.CaptureComponentBaselines(line)
	line = engine.CaptureBaselines(line)
	if s.autoCalc {
		line = engine.DeriveDimensions(line)
	}
	line = engine.RecalculateTotals(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.LineItem{}, engine.ErrSessionClosed
	}
	s.lines = append(s.lines, line)
	s.touched = time.Now()

	s.log.Debug("line added", "line_id", line.ID, "product_id", productID, "components", len(line.Components))
	return line.Clone(), nil
}

// RemoveLine drops a line and its pending rule passes.
func (s *Session) RemoveLine(lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrSessionClosed
	}

	i := s.indexOf(lineID)
	if i < 0 {
		return fmt.Errorf("%w: %s", engine.ErrLineNotFound, lineID)
	}
	s.timers.CancelLine(lineID)
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.touched = time.Now()
	return nil
}

// Lines returns a copy of every line in order.
func (s *Session) Lines() []engine.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Line returns a copy of one line.
func (s *Session) Line(lineID string) (engine.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(lineID)
	if i < 0 {
		return engine.LineItem{}, fmt.Errorf("%w: %s", engine.ErrLineNotFound, lineID)
	}
	return s.lines[i].Clone(), nil
}

// Total is the sum of line totals.
func (s *Session) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return engine.DocumentTotal(s.lines)
}

// Pending lists the rule passes still waiting for their timer.
func (s *Session) Pending() []TimerKey {
	return s.timers.Pending()
}

// =============================================================================
// EDITS
// =============================================================================

// SetDimension is the single entry point for a dimension edit. Derived values
// and totals update immediately; rule passes for the affected dimensions are
// scheduled.
func (s *Session) SetDimension(lineID string, dim engine.Dimension, value decimal.NullDecimal) (engine.LineItem, error) {
	if !dim.Valid() {
		return engine.LineItem{}, fmt.Errorf("%w: %q", engine.ErrInvalidDimension, dim)
	}
	if value.Valid && value.Decimal.IsNegative() {
		return engine.LineItem{}, fmt.Errorf("%w: %s must not be negative", engine.ErrInvalidValue, dim)
	}
	if dim == engine.DimensionQuantity && !value.Valid {
		return engine.LineItem{}, fmt.Errorf("%w: quantity is required", engine.ErrInvalidValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.LineItem{}, engine.ErrSessionClosed
	}
	i := s.indexOf(lineID)
	if i < 0 {
		return engine.LineItem{}, fmt.Errorf("%w: %s", engine.ErrLineNotFound, lineID)
	}

	before := s.lines[i]
	after := s.editDimension(before, dim, value)
	after = engine.RecalculateTotals(after)
	s.lines[i] = after
	s.touched = time.Now()

	if dim == engine.DimensionQuantity {
		// rescaling reset every component; the quantity pass re-applies all dimensions
		s.timers.CancelLine(lineID)
	}
	for _, d := range affectedDimensions(dim, before, after) {
		s.schedule(lineID, d, engine.ValueOf(before, d))
	}
	return s.lines[i].Clone(), nil
}

func (s *Session) editDimension(l engine.LineItem, dim engine.Dimension, value decimal.NullDecimal) engine.LineItem {
	out := l.Clone()
	switch dim {
	case engine.DimensionLength, engine.DimensionHeight, engine.DimensionDepth:
		switch dim {
		case engine.DimensionLength:
			out.Length = value
		case engine.DimensionHeight:
			out.Height = value
		default:
			out.Depth = value
		}
		if s.autoCalc {
			return engine.DeriveDimensions(out)
		}
		return engine.CaptureBaselines(out)

	case engine.DimensionArea:
		out = engine.SetManualArea(out, value)
	case engine.DimensionVolume:
		out = engine.SetManualVolume(out, value)
	case engine.DimensionQuantity:
		out = engine.ScaleToQuantity(out, value.Decimal)
	}

	if s.autoCalc {
		out = engine.DeriveDimensions(out)
	}
	return out
}

// affectedDimensions is the edited dimension plus any derived value that
// moved as a result.
func affectedDimensions(edited engine.Dimension, before, after engine.LineItem) []engine.Dimension {
	dims := []engine.Dimension{edited}
	for _, d := range []engine.Dimension{engine.DimensionArea, engine.DimensionVolume} {
		if d == edited || edited == engine.DimensionQuantity {
			continue
		}
		if !nullEqual(engine.ValueOf(before, d), engine.ValueOf(after, d)) {
			dims = append(dims, d)
		}
	}
	return dims
}

// schedule queues the single-dimension pass. The change is measured from the
// dimension's baseline when it has one, else from the value before the edit.
func (s *Session) schedule(lineID string, dim engine.Dimension, previous decimal.NullDecimal) {
	key := TimerKey{LineID: lineID, Dimension: dim}
	s.timers.Schedule(key, func() {
		if s.closed {
			return
		}
		s.runPass(lineID, dim, previous)
		s.touched = time.Now()
	})
	s.log.Debug("rule pass scheduled", "line_id", lineID, "dimension", dim, "delay", s.timers.Delay.String())
}

// SetUnitPrice changes the line's own price and its total.
func (s *Session) SetUnitPrice(lineID string, price decimal.Decimal) (engine.LineItem, error) {
	if price.IsNegative() {
		return engine.LineItem{}, fmt.Errorf("%w: unit price must not be negative", engine.ErrInvalidValue)
	}
	return s.update(lineID, func(l engine.LineItem) (engine.LineItem, error) {
		l.UnitPrice = price
		return engine.RecalculateTotals(l), nil
	})
}

// SetComponentQuantity records a manual component quantity. The new quantity
// becomes the component's baseline for later rule passes.
func (s *Session) SetComponentQuantity(lineID string, index int, quantity decimal.Decimal) (engine.LineItem, error) {
	if quantity.IsNegative() {
		return engine.LineItem{}, fmt.Errorf("%w: component quantity must not be negative", engine.ErrInvalidValue)
	}
	return s.update(lineID, func(l engine.LineItem) (engine.LineItem, error) {
		if index < 0 || index >= len(l.Components) {
			return l, fmt.Errorf("%w: component index %d out of range", engine.ErrInvalidValue, index)
		}
		c := l.Components[index]
		c.Quantity = quantity
		c.BaselineQuantity = engine.Null()
		if l.Quantity.IsPositive() {
			c.BaselineQuantity = engine.Some(quantity.Div(l.Quantity))
		}
		l.Components[index] = c
		return engine.RecalculateTotals(l), nil
	})
}

func (s *Session) update(lineID string, fn func(engine.LineItem) (engine.LineItem, error)) (engine.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.LineItem{}, engine.ErrSessionClosed
	}
	i := s.indexOf(lineID)
	if i < 0 {
		return engine.LineItem{}, fmt.Errorf("%w: %s", engine.ErrLineNotFound, lineID)
	}
	updated, err := fn(s.lines[i].Clone())
	if err != nil {
		return engine.LineItem{}, err
	}
	s.lines[i] = updated
	s.touched = time.Now()
	return updated.Clone(), nil
}

// =============================================================================
// RULE PASSES
// =============================================================================

// ApplyNow cancels the pending passes in scope and runs the rules at once.
// Without a dimension every dimension of each line is measured against its
// baseline in a single combined pass.
func (s *Session) ApplyNow(scope Scope) ([]engine.LineItem, error) {
	if scope.Dimension != "" && !scope.Dimension.Valid() {
		return nil, fmt.Errorf("%w: %q", engine.ErrInvalidDimension, scope.Dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, engine.ErrSessionClosed
	}

	var targets []string
	if scope.LineID != "" {
		if s.indexOf(scope.LineID) < 0 {
			return nil, fmt.Errorf("%w: %s", engine.ErrLineNotFound, scope.LineID)
		}
		targets = []string{scope.LineID}
	} else {
		for _, l := range s.lines {
			targets = append(targets, l.ID)
		}
	}

	cancelled := 0
	switch {
	case scope.Dimension != "":
		for _, id := range targets {
			if s.timers.Cancel(TimerKey{LineID: id, Dimension: scope.Dimension}) {
				cancelled++
			}
		}
	case scope.LineID != "":
		cancelled = s.timers.CancelLine(scope.LineID)
	default:
		cancelled = s.timers.CancelAll()
	}

	s.touched = time.Now()
	out := make([]engine.LineItem, 0, len(targets))
	for _, id := range targets {
		if scope.Dimension != "" {
			s.runPass(id, scope.Dimension, engine.Null())
		} else {
			s.applyLine(id)
		}
		out = append(out, s.lines[s.indexOf(id)].Clone())
	}

	s.log.Info("rules applied",
		"line_id", scope.LineID,
		"dimension", scope.Dimension,
		"lines", len(out),
		"cancelled_timers", cancelled,
	)
	return out, nil
}

// applyDimension runs the single-dimension pass on one line. Callers hold mu.
func (s *Session) applyDimension(lineID string, dim engine.Dimension, previous decimal.NullDecimal) {
	i := s.indexOf(lineID)
	if i < 0 {
		return
	}
	l := s.lines[i]
	old := engine.BaselineOf(l, dim)
	if !old.Valid {
		old = previous
	}
	s.lines[i] = s.adjuster.ApplyMaterialAdjustmentRules(l, dim, old, engine.ValueOf(l, dim))
}

// runPass is the rule pass for one dimension of one line. Quantity rescales
// every component, so its pass re-applies all dimensions.
func (s *Session) runPass(lineID string, dim engine.Dimension, previous decimal.NullDecimal) {
	if dim == engine.DimensionQuantity {
		s.applyLine(lineID)
		return
	}
	s.applyDimension(lineID, dim, previous)
}

func (s *Session) applyLine(lineID string) {
	if i := s.indexOf(lineID); i >= 0 {
		s.lines[i] = s.adjuster.ApplyAll(s.lines[i])
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Save writes the current lines as a document.
func (s *Session) Save(ctx context.Context) (engine.Document, error) {
	if s.deps.Documents == nil {
		return engine.Document{}, fmt.Errorf("no document store configured")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return engine.Document{}, engine.ErrSessionClosed
	}
	lines := s.snapshot()
	doc := engine.Document{
		ID:         s.DocumentID,
		Kind:       s.Kind,
		Number:     s.Number,
		Customer:   s.Customer,
		Lines:      lines,
		TotalPrice: engine.DocumentTotal(lines),
	}
	s.mu.Unlock()

	if err := s.deps.Documents.SaveDocument(ctx, doc); err != nil {
		return engine.Document{}, fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	s.log.Info("document saved", "document_id", doc.ID, "lines", len(doc.Lines), "total", doc.TotalPrice.String())
	return doc, nil
}

// Close cancels every pending pass and releases the rule index. Further
// operations return ErrSessionClosed. Closing twice is harmless.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	cancelled := s.timers.CancelAll()
	s.closed = true
	s.adjuster = engine.NewAdjuster(nil, nil)
	s.log.Info("session closed", "cancelled_timers", cancelled)
}

// LastActivity is the time of the last edit, apply or open.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrSessionClosed
	}
	return nil
}

func (s *Session) indexOf(lineID string) int {
	for i, l := range s.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (s *Session) snapshot() []engine.LineItem {
	out := make([]engine.LineItem, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.Clone()
	}
	return out
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
