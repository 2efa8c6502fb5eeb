package ledger

import "github.com/shopspring/decimal"

// ToUSD normalizes amount to USD. rate is the USD-to-currency rate
// (1 USD = rate units of currency). USD amounts are returned unchanged.
func ToUSD(amount decimal.Decimal, currency Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	if currency == USD {
		return amount, nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidExchangeRate
	}
	return amount.Div(rate), nil
}

// FromUSD is the mirror of ToUSD. Display only; never used for stored data.
func FromUSD(amountUSD decimal.Decimal, currency Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	if currency == USD {
		return amountUSD, nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidExchangeRate
	}
	return amountUSD.Mul(rate), nil
}

// effectiveRate is the rate recorded on an entry: USD is always 1.
func effectiveRate(currency Currency, rate decimal.Decimal) decimal.Decimal {
	if currency == USD {
		return decimal.NewFromInt(1)
	}
	return rate
}

// Equivalence is a set of balances expressed in USD.
type Equivalence struct {
	InUSD    Balances
	TotalUSD decimal.Decimal
}

// Equivalent expresses each balance in USD at the given rates. Currencies
// without a usable rate are skipped and reported in the second return value.
func Equivalent(balances Balances, rates map[Currency]decimal.Decimal) (Equivalence, []Currency) {
	out := Equivalence{InUSD: NewBalances(), TotalUSD: decimal.Zero}
	var missing []Currency
	for _, c := range SupportedCurrencies {
		usd, err := ToUSD(balances.Of(c), c, rates[c])
		if err != nil {
			missing = append(missing, c)
			continue
		}
		out.InUSD[c] = usd
		out.TotalUSD = out.TotalUSD.Add(usd)
	}
	return out, missing
}
