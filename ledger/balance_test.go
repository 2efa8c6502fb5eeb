package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryOn(id EntryID, date string, kind Kind, amount string, currency Currency, origin Origin) Entry {
	return Entry{
		ID:        id,
		OwnerID:   "alice",
		Date:      MustParseDate(date),
		Kind:      kind,
		Amount:    dec(amount),
		AmountUSD: dec(amount),
		Currency:  currency,
		Category:  "Divers",
		Origin:    origin,
	}
}

func TestComputeBalances_AllCurrenciesPresent(t *testing.T) {
	// GIVEN: a single USD income of 100
	entries := []Entry{entryOn("a", "2024-05-01", KindIncome, "100", USD, OriginManual)}

	// WHEN: computing balances
	b := ComputeBalances("alice", entries, today)

	// THEN: USD is 100 and every other currency is present at zero
	require.Len(t, b, len(SupportedCurrencies))
	assert.True(t, b[USD].Equal(dec("100")))
	assert.True(t, b[CDF].IsZero())
	assert.True(t, b[EUR].IsZero())
	assert.True(t, b[GBP].IsZero())
}

func TestComputeBalances_Filters(t *testing.T) {
	entries := []Entry{
		entryOn("a", "2024-05-01", KindIncome, "500", USD, OriginManual),
		entryOn("b", "2024-05-02", KindExpense, "120", USD, OriginAutomatic),
		entryOn("c", "2024-06-01", KindIncome, "1000", USD, OriginForecast),
		entryOn("d", "2024-05-20", KindIncome, "1000", USD, OriginManual), // after asOf
		{ID: "e", OwnerID: "bob", Date: MustParseDate("2024-05-01"), Kind: KindIncome, Amount: dec("9"), Currency: USD, Origin: OriginManual},
		entryOn("f", "2024-05-03", KindIncome, "28000", CDF, OriginManual),
	}

	b := ComputeBalances("alice", entries, today)

	assert.True(t, b[USD].Equal(dec("380")), "got %s", b[USD])
	assert.True(t, b[CDF].Equal(dec("28000")))
}

func TestProjectBalances_IncludesForecasts(t *testing.T) {
	entries := []Entry{
		entryOn("a", "2024-05-01", KindIncome, "500", USD, OriginManual),
		entryOn("b", "2024-06-01", KindExpense, "200", USD, OriginForecast),
		entryOn("c", "2024-07-01", KindExpense, "50", USD, OriginForecast),
	}

	assert.True(t, ProjectBalances("alice", entries, MustParseDate("2024-06-30"))[USD].Equal(dec("300")))
	assert.True(t, ComputeBalances("alice", entries, MustParseDate("2024-06-30"))[USD].Equal(dec("500")))
}

func TestComputeBalances_OrderIndependent(t *testing.T) {
	// GIVEN: the same entries in every order the store might return them
	entries := []Entry{
		entryOn("a", "2024-05-01", KindIncome, "100", USD, OriginManual),
		entryOn("b", "2024-05-01", KindExpense, "40", USD, OriginManual),
		entryOn("c", "2024-05-02", KindIncome, "2800", CDF, OriginAutomatic),
		entryOn("d", "2024-05-03", KindExpense, "10.5", USD, OriginManual),
		entryOn("e", "2024-05-04", KindIncome, "7", EUR, OriginManual),
	}
	want := ComputeBalances("alice", entries, today)

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Entry(nil), entries...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := ComputeBalances("alice", shuffled, today)
		for _, c := range SupportedCurrencies {
			assert.True(t, want[c].Equal(got[c]), "%s: want %s got %s", c, want[c], got[c])
		}
	}
}

func TestHistory_RunningBalance(t *testing.T) {
	entries := []Entry{
		entryOn("b", "2024-05-01", KindExpense, "30", USD, OriginManual),
		entryOn("a", "2024-05-01", KindIncome, "100", USD, OriginManual),
		entryOn("c", "2024-05-02", KindExpense, "20", USD, OriginManual),
	}

	h := History("alice", entries, today)

	require.Len(t, h, 3)
	assert.Equal(t, EntryID("a"), h[0].Entry.ID, "same-day entries replay by id")
	assert.True(t, h[0].Balance.Equal(dec("100")))
	assert.True(t, h[1].Balance.Equal(dec("70")))
	assert.True(t, h[2].Balance.Equal(dec("50")))
}

func TestSortForDisplay(t *testing.T) {
	entries := []Entry{
		entryOn("a", "2024-05-01", KindIncome, "1", USD, OriginManual),
		entryOn("c", "2024-05-03", KindIncome, "1", USD, OriginManual),
		entryOn("b", "2024-05-01", KindIncome, "1", USD, OriginManual),
	}

	SortForDisplay(entries)

	ids := []EntryID{entries[0].ID, entries[1].ID, entries[2].ID}
	assert.Equal(t, []EntryID{"c", "b", "a"}, ids)
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		entryOn("a", "2024-05-01", KindIncome, "500", USD, OriginManual),
		entryOn("b", "2024-05-02", KindExpense, "70", USD, OriginAutomatic),
		entryOn("c", "2024-05-03", KindExpense, "30", USD, OriginManual),
		entryOn("d", "2024-05-30", KindExpense, "999", USD, OriginForecast),
	}
	entries[1].Category = "Dîme"
	entries[2].Category = "Dîme"

	s := Summarize("alice", entries, today)

	assert.Equal(t, 3, s.EntryCount)
	assert.True(t, s.TotalIncomeUSD.Equal(dec("500")))
	assert.True(t, s.TotalExpenseUSD.Equal(dec("100")))
	assert.True(t, s.NetUSD.Equal(dec("400")))
	assert.True(t, s.ExpensesByCategory["Dîme"].Equal(dec("100")))
}
