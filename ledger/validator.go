/*
validator.go - Admission rules for a candidate entry

CHECK ORDER (first failure wins, so callers can assert the exact reason):
  1. amount > 0                            InvalidAmount
  2. date set; realized entries not future InvalidDate
     (a future manual entry is a forecast and skips the funds check)
  3. kind                                  InvalidKind
  4. currency, then exchange rate > 0      InvalidCurrency, InvalidExchangeRate
  5. category not blank                    InvalidCategory
  6. realized expense covered by balance   InsufficientFunds

Validate is pure: the caller supplies the balance snapshot and today.
*/
package ledger

import "strings"

// Classify decides the origin a candidate is stored under. Manual entries
// dated after today become forecasts; a forecast moved back to today or
// earlier becomes manual again. Automatic entries keep their origin.
func Classify(origin Origin, date Date, today Date) Origin {
	switch origin {
	case "", OriginManual, OriginForecast:
		if date.After(today) {
			return OriginForecast
		}
		return OriginManual
	default:
		return origin
	}
}

// Validate checks a fully prepared entry against the owner's current
// balances. balances must be computed over realized entries as of today.
func Validate(e Entry, balances Balances, today Date) error {
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	future := e.Date.After(today)
	switch e.Origin {
	case OriginForecast:
		if !future {
			return ErrInvalidDate
		}
	case OriginAutomatic, OriginManual:
		if future {
			return ErrInvalidDate
		}
	default:
		return ErrInvalidDate
	}

	if !e.Kind.Valid() {
		return ErrInvalidKind
	}
	if !e.Currency.Valid() {
		return ErrInvalidCurrency
	}
	if !e.ExchangeRate.IsPositive() {
		return ErrInvalidExchangeRate
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrInvalidCategory
	}

	if e.Kind == KindExpense && e.Realized(today) {
		available := balances.Of(e.Currency)
		if available.LessThan(e.Amount) {
			return &InsufficientFundsError{
				Currency:  e.Currency,
				Available: available,
				Requested: e.Amount,
			}
		}
	}
	return nil
}
