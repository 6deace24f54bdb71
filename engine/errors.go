/*
errors.go - Centralized error types for the adjustment engine

ERROR CATEGORIES:
  1. Adjustment errors - Malformed rule data or impossible inputs. These never
     escape an adjustment pass: the affected component is kept unchanged.
  2. Lookup errors - Missing sessions, lines, products, documents
  3. Input errors - Invalid values supplied by a caller

USAGE:
  if errors.Is(err, engine.ErrLineNotFound) {
      // 404
  }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownAdjustmentType is returned when a rule's adjustment type is
	// neither percentage nor absolute.
	ErrUnknownAdjustmentType = errors.New("unknown adjustment type")

	// ErrInvalidParentQuantity is returned when a component baseline must be
	// inferred from a parent quantity that is zero or negative.
	ErrInvalidParentQuantity = errors.New("parent quantity must be positive to infer component baseline")

	ErrInvalidRule      = errors.New("invalid rule")
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrInvalidValue     = errors.New("invalid value")

	ErrRuleNotFound     = errors.New("rule not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrLineNotFound     = errors.New("line not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrSessionNotFound  = errors.New("session not found")

	// ErrSessionClosed is returned by every session operation after Close.
	ErrSessionClosed = errors.New("session closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleError ties an adjustment failure to the rule that caused it.
type RuleError struct {
	RuleID      string
	ComponentID string
	Err         error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s on component %s: %v", e.RuleID, e.ComponentID, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrInvalidDimension) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrSessionClosed)
}
