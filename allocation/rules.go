// Package allocation applies the recurring day-of-month allocations to an
// owner's ledger, exactly once per rule and date.
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/franga/engine/ledger"
)

// Leg is one entry produced by a rule.
type Leg struct {
	Kind     ledger.Kind
	Category string
	Amount   decimal.Decimal
	Currency ledger.Currency
}

// Rule is a recurring allocation that fires on a fixed day of the month.
// All legs of a rule commit together or not at all.
type Rule struct {
	Type        ledger.AutomationType
	Day         int
	Description string // fmt pattern, receives the leg category
	Legs        []Leg
}

// Due reports whether the rule fires on today.
func (r Rule) Due(today ledger.Date) bool {
	return today.Day() == r.Day
}

// Total is the sum of the rule's leg amounts.
func (r Rule) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Legs {
		total = total.Add(l.Amount)
	}
	return total
}

func (r Rule) input(owner ledger.OwnerID, today ledger.Date, leg Leg) ledger.EntryInput {
	return ledger.EntryInput{
		OwnerID:     owner,
		Date:        today,
		Kind:        leg.Kind,
		Amount:      leg.Amount,
		Currency:    leg.Currency,
		Category:    leg.Category,
		Description: fmt.Sprintf(r.Description, leg.Category),
		Origin:      ledger.OriginAutomatic,
	}
}

func usd(kind ledger.Kind, category string, amount int64) Leg {
	return Leg{Kind: kind, Category: category, Amount: decimal.NewFromInt(amount), Currency: ledger.USD}
}

// Restocking credits 100 USD of food budget on the 10th.
func Restocking() Rule {
	return Rule{
		Type:        ledger.AutomationRestocking,
		Day:         10,
		Description: "Allocation automatique du 10 du mois (%s)",
		Legs: []Leg{
			usd(ledger.KindIncome, "Restauration", 100),
		},
	}
}

// Distribution spreads the monthly budget on the 25th. The table sums to
// 630 USD; the figure of 700 quoted alongside it has never matched.
// TODO: confirm the intended total with the budget owner before changing the table.
func Distribution() Rule {
	return Rule{
		Type:        ledger.AutomationDistribution,
		Day:         25,
		Description: "Allocation automatique du 25 pour %s",
		Legs: []Leg{
			usd(ledger.KindExpense, "Dîme", 70),
			usd(ledger.KindExpense, "Épargne", 300),
			usd(ledger.KindExpense, "Loyer", 100),
			usd(ledger.KindExpense, "Loisir", 100),
			usd(ledger.KindExpense, "Transport", 60),
		},
	}
}

// DefaultRules are the allocations every owner receives.
func DefaultRules() []Rule {
	return []Rule{Restocking(), Distribution()}
}
