/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Owner header enforcement
- Entry recording, rejection reasons and status codes
- Balances, projections and summary
- Rate edits
- Automation evaluation and run history
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franga/engine/allocation"
	"github.com/franga/engine/ledger"
	"github.com/franga/engine/metrics"
	"github.com/franga/engine/rates"
	"github.com/franga/engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testToday = ledger.MustParseDate("2024-05-15")

type testEnv struct {
	router http.Handler
	store  *sqlite.Store
	ledger *ledger.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	l := ledger.New(store, ledger.FixedClock{Date: testToday}, logger)
	l.Observer = m
	cache := rates.NewCache(store, time.Minute, logger)
	sched := allocation.NewScheduler(l, cache, logger)
	sched.Recorder = m

	h := NewHandler(l, sched, cache, store, store, logger)
	h.Owners = store
	return &testEnv{
		router: NewRouter(h, RouterOptions{Gatherer: reg}),
		store:  store,
		ledger: l,
	}
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func entryBody(kind, amount, currency, category string) map[string]any {
	return map[string]any{
		"kind":     kind,
		"amount":   amount,
		"currency": currency,
		"category": category,
	}
}

func (e *testEnv) mustCreate(t *testing.T, body map[string]any) EntryDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/entries", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[EntryDTO](t, rec)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// OWNER
// =============================================================================

func TestAPI_MissingOwner(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/entries", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health needs no owner")
}

// =============================================================================
// ENTRIES
// =============================================================================

func TestAPI_CreateEntry(t *testing.T) {
	env := newTestEnv(t)

	got := env.mustCreate(t, entryBody("income", "28000", "cdf", "Salaire"))

	assert.Equal(t, "2024-05-15", got.Date, "date defaults to today")
	assert.Equal(t, "CDF", got.Currency)
	assert.Equal(t, "manual", got.Origin)
	assert.True(t, got.AmountUSD.Equal(dec("10")), "fallback rate 2800, got %s", got.AmountUSD)
	assert.NotEmpty(t, got.ID)
}

func TestAPI_CreateEntry_FrenchKindLabels(t *testing.T) {
	env := newTestEnv(t)

	env.mustCreate(t, entryBody("Entrée", "100", "USD", "Salaire"))
	got := env.mustCreate(t, entryBody("Dépense", "30", "USD", "Transport"))
	assert.Equal(t, "expense", got.Kind)
}

func TestAPI_CreateEntry_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		status int
		reason string
	}{
		{"zero amount", entryBody("income", "0", "USD", "Salaire"), http.StatusUnprocessableEntity, "InvalidAmount"},
		{"unknown kind", entryBody("gift", "10", "USD", "Salaire"), http.StatusUnprocessableEntity, "InvalidKind"},
		{"unknown currency", entryBody("income", "10", "JPY", "Salaire"), http.StatusUnprocessableEntity, "InvalidCurrency"},
		{"blank category", entryBody("income", "10", "USD", " "), http.StatusUnprocessableEntity, "InvalidCategory"},
		{"overdraw", entryBody("expense", "10", "USD", "Loyer"), http.StatusUnprocessableEntity, "InsufficientFunds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/entries", "alice", tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.reason, decodeBody[ErrorResponse](t, rec).Reason)
		})
	}
}

func TestAPI_CreateEntry_ExplicitRateOverride(t *testing.T) {
	env := newTestEnv(t)

	body := entryBody("income", "2000", "CDF", "Salaire")
	body["exchange_rate"] = "2000"
	got := env.mustCreate(t, body)
	assert.True(t, got.AmountUSD.Equal(dec("1")))

	body = entryBody("income", "2000", "CDF", "Prime")
	body["exchange_rate"] = "0"
	rec := env.do(t, http.MethodPost, "/api/entries", "alice", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidExchangeRate", decodeBody[ErrorResponse](t, rec).Reason)
}

func TestAPI_CreateEntry_Duplicate(t *testing.T) {
	// GIVEN: a manual expense of 25 USD "Transport" today
	// WHEN: the form is submitted twice
	// THEN: the second submission is a 409 and the balance moved once
	env := newTestEnv(t)
	env.mustCreate(t, entryBody("income", "100", "USD", "Salaire"))
	env.mustCreate(t, entryBody("expense", "25", "USD", "Transport"))

	rec := env.do(t, http.MethodPost, "/api/entries", "alice", entryBody("expense", "25", "USD", "TRANSPORT"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DuplicateEntry", decodeBody[ErrorResponse](t, rec).Reason)

	bal := decodeBody[BalancesDTO](t, env.do(t, http.MethodGet, "/api/balances", "alice", nil))
	assert.True(t, bal.Balances["USD"].Equal(dec("75")))
}

func TestAPI_CreateEntry_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/entries", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := entryBody("income", "1", "USD", "Salaire")
	body["date"] = "15/05/2024"
	rec = env.do(t, http.MethodPost, "/api/entries", "alice", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/entries", "alice", map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "kind and currency are required")
}

func TestAPI_ListEntries_NewestFirst(t *testing.T) {
	env := newTestEnv(t)

	older := entryBody("income", "10", "USD", "Salaire")
	older["date"] = "2024-05-01"
	env.mustCreate(t, older)
	env.mustCreate(t, entryBody("income", "20", "USD", "Prime"))

	rec := env.do(t, http.MethodGet, "/api/entries", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]EntryDTO](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "2024-05-15", list[0].Date)
	assert.Equal(t, "2024-05-01", list[1].Date)

	rec = env.do(t, http.MethodGet, "/api/entries", "bob", nil)
	assert.Empty(t, decodeBody[[]EntryDTO](t, rec))
}

func TestAPI_UpdateAndDeleteEntry(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustCreate(t, entryBody("income", "100", "USD", "Salaire"))

	rec := env.do(t, http.MethodPut, "/api/entries/"+e.ID, "alice", map[string]any{"amount": "150", "category": "Salaire mai"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[EntryDTO](t, rec)
	assert.Equal(t, e.ID, updated.ID)
	assert.True(t, updated.AmountUSD.Equal(dec("150")))
	assert.Equal(t, "Salaire mai", updated.Category)

	rec = env.do(t, http.MethodPut, "/api/entries/"+e.ID, "bob", map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/entries/"+e.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/entries/"+e.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "EntryNotFound", decodeBody[ErrorResponse](t, rec).Reason)
}

func TestAPI_UpdateEntry_KeepsCurrencyRate(t *testing.T) {
	env := newTestEnv(t)
	e := env.mustCreate(t, entryBody("income", "28000", "CDF", "Salaire"))

	rec := env.do(t, http.MethodPut, "/api/entries/"+e.ID, "alice", map[string]any{"amount": "56000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[EntryDTO](t, rec)
	assert.True(t, updated.AmountUSD.Equal(dec("20")), "got %s", updated.AmountUSD)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestAPI_Balances(t *testing.T) {
	// GIVEN: USD income 100 and no CDF
	env := newTestEnv(t)
	env.mustCreate(t, entryBody("income", "100", "USD", "Salaire"))

	rec := env.do(t, http.MethodGet, "/api/balances", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeBody[BalancesDTO](t, rec)

	// THEN: every currency is present, USD 100, total 100 USD
	assert.Len(t, bal.Balances, 4)
	assert.True(t, bal.Balances["USD"].Equal(dec("100")))
	assert.True(t, bal.Balances["CDF"].IsZero())
	assert.True(t, bal.TotalUSD.Equal(dec("100")))
	assert.Equal(t, "2024-05-15", bal.AsOf)
	assert.False(t, bal.Projected)

	// as_of before the entry
	bal = decodeBody[BalancesDTO](t, env.do(t, http.MethodGet, "/api/balances?as_of=2024-05-01", "alice", nil))
	assert.True(t, bal.Balances["USD"].IsZero())

	rec = env.do(t, http.MethodGet, "/api/balances?as_of=yesterday", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ProjectedBalances(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, entryBody("income", "100", "USD", "Salaire"))
	forecast := entryBody("expense", "300", "USD", "Loyer")
	forecast["date"] = "2024-06-01"
	got := env.mustCreate(t, forecast)
	assert.Equal(t, "forecast", got.Origin)

	bal := decodeBody[BalancesDTO](t, env.do(t, http.MethodGet, "/api/balances/projected?as_of=2024-06-30", "alice", nil))
	assert.True(t, bal.Projected)
	assert.True(t, bal.Balances["USD"].Equal(dec("-200")))

	bal = decodeBody[BalancesDTO](t, env.do(t, http.MethodGet, "/api/balances?as_of=2024-06-30", "alice", nil))
	assert.True(t, bal.Balances["USD"].Equal(dec("100")))
}

func TestAPI_Summary(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, entryBody("income", "28000", "CDF", "Salaire"))
	env.mustCreate(t, entryBody("expense", "5600", "CDF", "Marché"))

	rec := env.do(t, http.MethodGet, "/api/summary", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeBody[SummaryDTO](t, rec)

	assert.True(t, s.TotalIncomeUSD.Equal(dec("10")))
	assert.True(t, s.TotalExpenseUSD.Equal(dec("2")))
	assert.True(t, s.NetUSD.Equal(dec("8")))
	assert.True(t, s.ExpensesByCategory["Marché"].Equal(dec("2")))
	assert.Equal(t, 2, s.EntryCount)
}

// =============================================================================
// RATES
// =============================================================================

func TestAPI_Rates(t *testing.T) {
	env := newTestEnv(t)

	served := decodeBody[RatesDTO](t, env.do(t, http.MethodGet, "/api/rates", "alice", nil))
	assert.True(t, served.Rates["CDF"].Equal(dec("2800")), "static fallback")
	assert.True(t, served.Rates["USD"].Equal(dec("1")))

	rec := env.do(t, http.MethodPut, "/api/rates/cdf", "alice", map[string]any{"rate": "2000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := env.mustCreate(t, entryBody("income", "2000", "CDF", "Salaire"))
	assert.True(t, got.AmountUSD.Equal(dec("1")), "new rate applies immediately")

	rec = env.do(t, http.MethodPut, "/api/rates/USD", "alice", map[string]any{"rate": "2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/rates/EUR", "alice", map[string]any{"rate": "0"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidExchangeRate", decodeBody[ErrorResponse](t, rec).Reason)
}

// =============================================================================
// AUTOMATION
// =============================================================================

func TestAPI_EvaluateAutomation(t *testing.T) {
	// GIVEN: the 10th of the month
	// WHEN: evaluation is triggered twice
	// THEN: one restocking entry and one run
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/automation/evaluate?date=2024-05-10", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[EvaluateResponse](t, rec)
	require.Len(t, first.Committed, 1)
	assert.Equal(t, "automatic", first.Committed[0].Origin)
	assert.Equal(t, "Restauration", first.Committed[0].Category)

	second := decodeBody[EvaluateResponse](t, env.do(t, http.MethodPost, "/api/automation/evaluate?date=2024-05-10", "alice", nil))
	assert.Empty(t, second.Committed)

	runs := decodeBody[[]AutomationRunDTO](t, env.do(t, http.MethodGet, "/api/automation/runs", "alice", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "restocking-day10", runs[0].Type)
	assert.Equal(t, []string{first.Committed[0].ID}, runs[0].EntryIDs)
}

func TestAPI_EvaluateAutomation_DeferredIsNotAnError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/automation/evaluate?date=2024-04-25", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[EvaluateResponse](t, rec).Committed)

	runs := decodeBody[[]AutomationRunDTO](t, env.do(t, http.MethodGet, "/api/automation/runs", "alice", nil))
	assert.Empty(t, runs)
}

func TestAPI_EvaluateAutomation_FutureDateRejected(t *testing.T) {
	// GIVEN: today is the 15th
	// WHEN: a client asks for the 25th
	// THEN: 422 InvalidDate and no run is recorded
	env := newTestEnv(t)
	env.mustCreate(t, entryBody("income", "1000", "USD", "Salaire"))

	rec := env.do(t, http.MethodPost, "/api/automation/evaluate?date=2024-05-25", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidDate", decodeBody[ErrorResponse](t, rec).Reason)

	runs := decodeBody[[]AutomationRunDTO](t, env.do(t, http.MethodGet, "/api/automation/runs", "alice", nil))
	assert.Empty(t, runs)
	bal := decodeBody[BalancesDTO](t, env.do(t, http.MethodGet, "/api/balances/projected?as_of=2024-05-31", "alice", nil))
	assert.True(t, bal.Balances["USD"].Equal(dec("1000")))
}

// =============================================================================
// BALANCE PROTECTION ON EDITS
// =============================================================================

func TestAPI_DeleteIncomeNeededByExpense(t *testing.T) {
	env := newTestEnv(t)
	income := env.mustCreate(t, entryBody("income", "100", "USD", "Salaire"))
	env.mustCreate(t, entryBody("expense", "80", "USD", "Loyer"))

	rec := env.do(t, http.MethodDelete, "/api/entries/"+income.ID, "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InsufficientFunds", decodeBody[ErrorResponse](t, rec).Reason)

	rec = env.do(t, http.MethodPut, "/api/entries/"+income.ID, "alice", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	bal := decodeBody[BalancesDTO](t, env.do(t, http.MethodGet, "/api/balances", "alice", nil))
	assert.True(t, bal.Balances["USD"].Equal(dec("20")))
}

func TestAPI_UpdateEntry_RateChangeDoesNotRewriteHistory(t *testing.T) {
	// GIVEN: 28000 CDF recorded at the fallback 2800 (10 USD)
	env := newTestEnv(t)
	e := env.mustCreate(t, entryBody("income", "28000", "CDF", "Salaire"))

	// WHEN: the CDF rate moves and only the description is edited
	rec := env.do(t, http.MethodPut, "/api/rates/CDF", "alice", map[string]any{"rate": "3500"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/entries/"+e.ID, "alice", map[string]any{"description": "salaire de mai"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the stored USD value and rate are unchanged
	updated := decodeBody[EntryDTO](t, rec)
	assert.True(t, updated.AmountUSD.Equal(dec("10")), "got %s", updated.AmountUSD)
	assert.True(t, updated.ExchangeRate.Equal(dec("2800")))

	// an explicit rate in the edit reprices
	rec = env.do(t, http.MethodPut, "/api/entries/"+e.ID, "alice", map[string]any{"exchange_rate": "3500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[EntryDTO](t, rec).AmountUSD.Equal(dec("8")))
}

// =============================================================================
// OWNER REGISTRATION
// =============================================================================

func TestAPI_OwnersAreRegistered(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/entries", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	owners, err := env.store.ListOwners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ledger.OwnerID{"carol"}, owners, "known before any entry")
}

// =============================================================================
// METRICS
// =============================================================================

func TestAPI_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, entryBody("income", "100", "USD", "Salaire"))

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `franga_entries_recorded_total{origin="manual"} 1`), rec.Body.String())
}
