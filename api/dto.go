/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Struct tags only check shape (required fields, date layout). Business
  rules such as a positive amount or a supported currency are decided by
  the ledger so the client always receives the same reason code.

AMOUNTS:
  Amounts travel as JSON strings ("28000.5") to keep decimal precision.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/franga/engine/ledger"
)

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID           string          `json:"id"`
	Date         string          `json:"date"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	Currency     string          `json:"currency"`
	Category     string          `json:"category"`
	Description  string          `json:"description,omitempty"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Origin       string          `json:"origin"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		Date:         e.Date.String(),
		Kind:         string(e.Kind),
		Amount:       e.Amount,
		AmountUSD:    e.AmountUSD,
		Currency:     string(e.Currency),
		Category:     e.Category,
		Description:  e.Description,
		ExchangeRate: e.ExchangeRate,
		Origin:       string(e.Origin),
		CreatedAt:    e.CreatedAt,
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// CreateEntryRequest is the body of POST /api/entries.
// Date defaults to today when omitted.
type CreateEntryRequest struct {
	Date        string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Kind        string          `json:"kind" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required"`
	Category    string          `json:"category"`
	Description string          `json:"description" validate:"max=500"`
	// ExchangeRate overrides the cached rate for this entry only.
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
}

// UpdateEntryRequest is the body of PUT /api/entries/{id}. Omitted fields
// keep their current value.
type UpdateEntryRequest struct {
	Date         *string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Kind         *string          `json:"kind,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Currency     *string          `json:"currency,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Description  *string          `json:"description,omitempty" validate:"omitempty,max=500"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalancesDTO is the per-currency position of an owner.
type BalancesDTO struct {
	AsOf      string                     `json:"as_of"`
	Balances  map[string]decimal.Decimal `json:"balances"`
	InUSD     map[string]decimal.Decimal `json:"in_usd"`
	TotalUSD  decimal.Decimal            `json:"total_usd"`
	Projected bool                       `json:"projected"`
}

// SummaryDTO is the USD-normalized analysis.
type SummaryDTO struct {
	AsOf               string                     `json:"as_of"`
	TotalIncomeUSD     decimal.Decimal            `json:"total_income_usd"`
	TotalExpenseUSD    decimal.Decimal            `json:"total_expense_usd"`
	NetUSD             decimal.Decimal            `json:"net_usd"`
	ExpensesByCategory map[string]decimal.Decimal `json:"expenses_by_category"`
	EntryCount         int                        `json:"entry_count"`
}

// =============================================================================
// RATES
// =============================================================================

// SetRateRequest is the body of PUT /api/rates/{currency}.
type SetRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// RatesDTO lists the rate currently served for every currency.
type RatesDTO struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// =============================================================================
// AUTOMATION
// =============================================================================

// EvaluateResponse reports the entries committed by one evaluation.
type EvaluateResponse struct {
	Date      string     `json:"date"`
	Committed []EntryDTO `json:"committed"`
}

// AutomationRunDTO represents an automation run record.
type AutomationRunDTO struct {
	Date      string    `json:"date"`
	Type      string    `json:"type"`
	EntryIDs  []string  `json:"entry_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

func currencyMap(b ledger.Balances) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b))
	for c, v := range b {
		out[string(c)] = v
	}
	return out
}
