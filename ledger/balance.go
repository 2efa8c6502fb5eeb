/*
balance.go - Balance replay

PURPOSE:
  Answers "how much does this owner have in each currency?" by replaying the
  entry log from scratch. There is no stored running balance that could
  drift from the log.

ORDERING:
  Entries are replayed in ascending date order, ties broken by id, so the
  cumulative sequence is deterministic whatever order the store returned.
  Display order is the opposite (date descending), see SortForDisplay.

FILTERS:
  ComputeBalances: owner, realized origins (manual, automatic), date <= asOf
  ProjectBalances: owner, every origin including forecasts, date <= asOf
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeBalances derives per-currency balances from realized entries.
func ComputeBalances(owner OwnerID, entries []Entry, asOf Date) Balances {
	return replay(owner, entries, asOf, func(e Entry) bool { return e.Origin.Realized() })
}

// ProjectBalances is ComputeBalances with forecast entries included. It is
// the position the owner expects at asOf if every forecast materializes.
func ProjectBalances(owner OwnerID, entries []Entry, asOf Date) Balances {
	return replay(owner, entries, asOf, func(e Entry) bool { return e.Origin.Valid() })
}

func replay(owner OwnerID, entries []Entry, asOf Date, include func(Entry) bool) Balances {
	balances := NewBalances()
	for _, e := range chronological(owner, entries, asOf, include) {
		balances[e.Currency] = balances.Of(e.Currency).Add(e.signedAmount())
	}
	return balances
}

// chronological filters and sorts a copy of entries in replay order.
func chronological(owner OwnerID, entries []Entry, asOf Date, include func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.OwnerID != owner || e.Date.After(asOf) || !include(e) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunningBalance is an entry with the owner's balance in its currency right
// after it was applied.
type RunningBalance struct {
	Entry   Entry
	Balance decimal.Decimal
}

// History replays realized entries and reports the balance after each one,
// in replay order.
func History(owner OwnerID, entries []Entry, asOf Date) []RunningBalance {
	balances := NewBalances()
	ordered := chronological(owner, entries, asOf, func(e Entry) bool { return e.Origin.Realized() })
	out := make([]RunningBalance, 0, len(ordered))
	for _, e := range ordered {
		balances[e.Currency] = balances.Of(e.Currency).Add(e.signedAmount())
		out = append(out, RunningBalance{Entry: e, Balance: balances[e.Currency]})
	}
	return out
}

// SortForDisplay orders entries by date descending, then by id descending.
// Stores issue time-ordered ids, so same-day entries show newest first.
// It sorts in place.
func SortForDisplay(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].ID > entries[j].ID
	})
}

// =============================================================================
// SUMMARY - USD-normalized analysis of realized entries
// =============================================================================

// Summary aggregates realized entries on their stored AmountUSD, so the
// figures never move when live rates change.
type Summary struct {
	OwnerID            OwnerID
	AsOf               Date
	TotalIncomeUSD     decimal.Decimal
	TotalExpenseUSD    decimal.Decimal
	NetUSD             decimal.Decimal
	ExpensesByCategory map[string]decimal.Decimal
	EntryCount         int
}

// Summarize computes the Summary for owner as of asOf.
func Summarize(owner OwnerID, entries []Entry, asOf Date) Summary {
	s := Summary{
		OwnerID:            owner,
		AsOf:               asOf,
		TotalIncomeUSD:     decimal.Zero,
		TotalExpenseUSD:    decimal.Zero,
		ExpensesByCategory: make(map[string]decimal.Decimal),
	}
	for _, e := range chronological(owner, entries, asOf, func(e Entry) bool { return e.Origin.Realized() }) {
		s.EntryCount++
		switch e.Kind {
		case KindIncome:
			s.TotalIncomeUSD = s.TotalIncomeUSD.Add(e.AmountUSD)
		case KindExpense:
			s.TotalExpenseUSD = s.TotalExpenseUSD.Add(e.AmountUSD)
			s.ExpensesByCategory[e.Category] = s.ExpensesByCategory[e.Category].Add(e.AmountUSD)
		}
	}
	s.NetUSD = s.TotalIncomeUSD.Sub(s.TotalExpenseUSD)
	return s
}
