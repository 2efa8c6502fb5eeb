/*
Package ledger provides the personal multi-currency ledger engine.

PURPOSE:
  Turns a raw intent ("record a transaction") into a validated,
  USD-normalized, deduplicated, balance-consistent entry. Balances are never
  stored; they are replayed from the entry log on every query.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: a dated income or expense in one of the supported currencies
  - Origin: manual, automatic (scheduled allocation) or forecast (future-dated)
  - Balances: per-currency totals derived from realized entries
  - AutomationRun: the permanent proof a scheduled allocation committed

DESIGN PRINCIPLES:
  1. Write-once normalization: AmountUSD and ExchangeRate are fixed at creation
     and only recomputed together by an explicit edit
  2. Precision: amounts use decimal.Decimal
  3. Owner partitioning: every read and write is scoped to one OwnerID

SEE ALSO:
  - validator.go: Admission rules for a candidate entry
  - balance.go: Balance replay
  - store.go: Persistence boundary
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type OwnerID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

func (k Kind) Valid() bool { return k == KindIncome || k == KindExpense }

type Currency string

const (
	USD Currency = "USD"
	CDF Currency = "CDF"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// SupportedCurrencies lists every currency an entry may be recorded in.
var SupportedCurrencies = []Currency{USD, CDF, EUR, GBP}

func (c Currency) Valid() bool {
	for _, s := range SupportedCurrencies {
		if c == s {
			return true
		}
	}
	return false
}

// ParseCurrency accepts any letter case.
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

type Origin string

const (
	OriginManual    Origin = "manual"
	OriginAutomatic Origin = "automatic"
	OriginForecast  Origin = "forecast"
)

// Realized reports whether entries of this origin can affect balances.
func (o Origin) Realized() bool { return o == OriginManual || o == OriginAutomatic }

func (o Origin) Valid() bool { return o.Realized() || o == OriginForecast }

// =============================================================================
// ENTRY - The ledger line item
// =============================================================================

type Entry struct {
	ID          EntryID
	OwnerID     OwnerID
	Date        Date
	Kind        Kind
	Amount      decimal.Decimal // in Currency's native unit
	AmountUSD   decimal.Decimal // Amount normalized at ExchangeRate, write-once
	Currency    Currency
	Category    string
	Description string

	// ExchangeRate is the USD-to-Currency rate in effect at normalization.
	ExchangeRate decimal.Decimal
	Origin       Origin
	CreatedAt    time.Time
}

// Realized reports whether the entry affects balances as of asOf.
func (e Entry) Realized(asOf Date) bool {
	return e.Origin.Realized() && e.Date.BeforeOrEqual(asOf)
}

// signedAmount is Amount with the sign of its kind.
func (e Entry) signedAmount() decimal.Decimal {
	if e.Kind == KindExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}

// EntryInput is a candidate entry as submitted by a user or the scheduler.
// The store assigns ID; the ledger derives AmountUSD and ExchangeRate.
type EntryInput struct {
	OwnerID     OwnerID
	Date        Date
	Kind        Kind
	Amount      decimal.Decimal
	Currency    Currency
	Category    string
	Description string
	Origin      Origin // empty means manual
}

// EntryPatch carries the fields of an explicit edit. Nil fields are unchanged.
// ExchangeRate forces a reprice at that rate; without it the stored rate
// is kept unless Amount or Currency changes.
type EntryPatch struct {
	Date         *Date
	Kind         *Kind
	Amount       *decimal.Decimal
	Currency     *Currency
	Category     *string
	Description  *string
	ExchangeRate *decimal.Decimal
}

// apply returns a copy of e with the patch applied.
func (p EntryPatch) apply(e Entry) Entry {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Currency != nil {
		e.Currency = *p.Currency
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	return e
}

// =============================================================================
// BALANCES
// =============================================================================

// Balances maps every supported currency to its running total.
// Currencies without entries are present with zero.
type Balances map[Currency]decimal.Decimal

// NewBalances returns zero balances for all supported currencies.
func NewBalances() Balances {
	b := make(Balances, len(SupportedCurrencies))
	for _, c := range SupportedCurrencies {
		b[c] = decimal.Zero
	}
	return b
}

// Of returns the balance in c, zero when absent.
func (b Balances) Of(c Currency) decimal.Decimal {
	if v, ok := b[c]; ok {
		return v
	}
	return decimal.Zero
}

// =============================================================================
// AUTOMATION RUN - Idempotency record for scheduled allocations
// =============================================================================

type AutomationType string

const (
	AutomationRestocking   AutomationType = "restocking-day10"
	AutomationDistribution AutomationType = "distribution-day25"
)

// AutomationRun is created once, when every leg of a rule has committed.
// It is never updated or deleted.
type AutomationRun struct {
	OwnerID   OwnerID
	Date      Date
	Type      AutomationType
	EntryIDs  []EntryID
	CreatedAt time.Time
}
