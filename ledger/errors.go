/*
errors.go - Error taxonomy for the ledger engine

PURPOSE:
  Every admission failure is a local, recoverable error carrying a stable
  reason code so the caller can render a specific message. Nothing here is
  a panic.

ERROR CATEGORIES:
  1. Validation - candidate entry rejected (amount, date, kind, ...)
  2. Conflict   - duplicate manual entry, automation run already recorded
  3. Store      - opaque collaborator failure, wrapped in StoreError

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) { ... }
  code := ledger.Reason(err) // "InsufficientFunds"
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidDate         = errors.New("invalid entry date")
	ErrInvalidKind         = errors.New("kind must be income or expense")
	ErrInvalidCurrency     = errors.New("unsupported currency")
	ErrInvalidExchangeRate = errors.New("exchange rate must be positive")
	ErrInvalidCategory     = errors.New("category must not be empty")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateEntry      = errors.New("duplicate entry")

	// ErrAutomationRunExists is returned by RecordAutomationRun when the
	// (owner, date, type) key is already taken.
	ErrAutomationRunExists = errors.New("automation run already recorded")

	// ErrEntryNotFound is returned when an id does not exist for the owner.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrStore matches every StoreError.
	ErrStore = errors.New("store error")
)

// Reason codes, stable across releases.
const (
	ReasonInvalidAmount       = "InvalidAmount"
	ReasonInvalidDate         = "InvalidDate"
	ReasonInvalidKind         = "InvalidKind"
	ReasonInvalidCurrency     = "InvalidCurrency"
	ReasonInvalidExchangeRate = "InvalidExchangeRate"
	ReasonInvalidCategory     = "InvalidCategory"
	ReasonInsufficientFunds   = "InsufficientFunds"
	ReasonDuplicateEntry      = "DuplicateEntry"
	ReasonAutomationConflict  = "FutureAutomationKeyConflict"
	ReasonEntryNotFound       = "EntryNotFound"
	ReasonStoreError          = "StoreError"
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, ReasonInvalidAmount},
	{ErrInvalidDate, ReasonInvalidDate},
	{ErrInvalidKind, ReasonInvalidKind},
	{ErrInvalidCurrency, ReasonInvalidCurrency},
	{ErrInvalidExchangeRate, ReasonInvalidExchangeRate},
	{ErrInvalidCategory, ReasonInvalidCategory},
	{ErrInsufficientFunds, ReasonInsufficientFunds},
	{ErrDuplicateEntry, ReasonDuplicateEntry},
	{ErrAutomationRunExists, ReasonAutomationConflict},
	{ErrEntryNotFound, ReasonEntryNotFound},
	{ErrStore, ReasonStoreError},
}

// Reason maps err to its reason code, or "" when err is not part of the taxonomy.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ""
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a realized expense the balance cannot cover.
type InsufficientFundsError struct {
	Currency  Currency
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s %s, requested %s",
		e.Available, e.Currency, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Shortfall is how much the balance is missing.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// DuplicateEntryError points at the manual entry the candidate repeats.
type DuplicateEntryError struct {
	ExistingID EntryID
	Date       Date
	Category   string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate entry: %s %q already recorded as %s", e.Date, e.Category, e.ExistingID)
}

func (e *DuplicateEntryError) Unwrap() error { return ErrDuplicateEntry }

// StoreError wraps a failure returned by the persistence collaborator.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// wrapStore wraps err as a StoreError unless it already belongs to the taxonomy.
func wrapStore(op string, err error) error {
	if err == nil || Reason(err) != "" {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRejection reports whether err is a validation or duplicate rejection,
// i.e. the candidate itself is at fault.
func IsRejection(err error) bool {
	switch Reason(err) {
	case ReasonInvalidAmount, ReasonInvalidDate, ReasonInvalidKind, ReasonInvalidCurrency,
		ReasonInvalidExchangeRate, ReasonInvalidCategory, ReasonInsufficientFunds, ReasonDuplicateEntry:
		return true
	}
	return false
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEntry) || errors.Is(err, ErrAutomationRunExists)
}
