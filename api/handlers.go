/*
handlers.go - HTTP API handlers for the ledger engine

ENDPOINTS:
  Entries:
    GET    /api/entries                 Entries in display order (date desc)
    POST   /api/entries                 Record an entry
    PUT    /api/entries/{id}            Explicit edit
    DELETE /api/entries/{id}            Delete

  Balances:
    GET    /api/balances                Realized balances (?as_of=YYYY-MM-DD)
    GET    /api/balances/projected      Balances including forecasts
    GET    /api/summary                 USD totals and expenses by category

  Rates:
    GET    /api/rates                   Rate served per currency
    PUT    /api/rates/{currency}        Set the rate for a currency

  Automation:
    POST   /api/automation/evaluate     Evaluate allocation rules (?date=)
    GET    /api/automation/runs         Committed automation runs

OWNER:
  Every request carries a trusted X-Owner-ID header set by the
  authenticating proxy. See OwnerFromContext.

ERROR HANDLING:
  - 400: malformed body or query
  - 401: missing owner
  - 404: entry not found
  - 409: duplicate entry, automation run conflict
  - 422: entry rejected by the validator (reason in body)
  - 500: store failures
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/franga/engine/allocation"
	"github.com/franga/engine/ledger"
)

// RateProvider is the cached rate lookup used by handlers.
type RateProvider interface {
	Rate(ctx context.Context, currency ledger.Currency) (decimal.Decimal, error)
	All(ctx context.Context) map[ledger.Currency]decimal.Decimal
	Invalidate(currency ledger.Currency)
}

// RateWriter persists an owner-edited rate.
type RateWriter interface {
	SetRate(ctx context.Context, currency ledger.Currency, rate decimal.Decimal) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Scheduler *allocation.Scheduler
	Rates     RateProvider
	RateStore RateWriter
	Runs      ledger.RunLister
	Owners    ledger.OwnerRegistrar // optional, records owners seen on /api
	Logger    *slog.Logger

	validate *validator.Validate
}

// NewHandler creates a handler. rateStore and runs may be nil, in which
// case the corresponding endpoints answer 501.
func NewHandler(l *ledger.Ledger, s *allocation.Scheduler, r RateProvider, rateStore RateWriter, runs ledger.RunLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Ledger:    l,
		Scheduler: s,
		Rates:     r,
		RateStore: rateStore,
		Runs:      runs,
		Logger:    logger,
		validate:  validator.New(),
	}
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ListEntries returns the owner's entries, newest first.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	entries, err := h.Ledger.Entries(r.Context(), owner)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// CreateEntry records a manual entry (or a forecast when future-dated).
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)

	var req CreateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}

	date := h.Ledger.Today()
	if req.Date != "" {
		d, err := ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		date = d
	}

	currency := ledger.ParseCurrency(req.Currency)
	in := ledger.EntryInput{
		OwnerID:     owner,
		Date:        date,
		Kind:        parseKind(req.Kind),
		Amount:      req.Amount,
		Currency:    currency,
		Category:    req.Category,
		Description: req.Description,
		Origin:      ledger.OriginManual,
	}

	entry, err := h.Ledger.Record(ctx, in, h.resolveRate(ctx, currency, req.ExchangeRate))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// UpdateEntry applies an explicit edit.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)
	id := ledger.EntryID(chi.URLParam(r, "id"))

	var req UpdateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}

	var patch ledger.EntryPatch
	if req.Date != nil {
		d, err := ledger.ParseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		patch.Date = &d
	}
	if req.Kind != nil {
		k := parseKind(*req.Kind)
		patch.Kind = &k
	}
	if req.Currency != nil {
		c := ledger.ParseCurrency(*req.Currency)
		patch.Currency = &c
	}
	patch.Amount = req.Amount
	patch.Category = req.Category
	patch.Description = req.Description
	patch.ExchangeRate = req.ExchangeRate

	// the live rate for the currency the entry ends up in; the ledger only
	// uses it when the edit reprices the entry
	currency := ledger.Currency("")
	if patch.Currency != nil {
		currency = *patch.Currency
	} else {
		entries, err := h.Ledger.Entries(ctx, owner)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		for _, e := range entries {
			if e.ID == id {
				currency = e.Currency
				break
			}
		}
	}

	entry, err := h.Ledger.Update(ctx, owner, id, patch, h.resolveRate(ctx, currency, nil))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// DeleteEntry removes an entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	id := ledger.EntryID(chi.URLParam(r, "id"))

	if err := h.Ledger.Delete(r.Context(), owner, id); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalances returns realized balances.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	h.balances(w, r, false)
}

// GetProjectedBalances returns balances including forecast entries.
func (h *Handler) GetProjectedBalances(w http.ResponseWriter, r *http.Request) {
	h.balances(w, r, true)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request, projected bool) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)

	asOf, ok := h.dateParam(w, r, "as_of")
	if !ok {
		return
	}
	if asOf.IsZero() {
		asOf = h.Ledger.Today()
	}

	var (
		balances ledger.Balances
		err      error
	)
	if projected {
		balances, err = h.Ledger.Projected(ctx, owner, asOf)
	} else {
		balances, err = h.Ledger.Balances(ctx, owner, asOf)
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	eq, missing := ledger.Equivalent(balances, h.Rates.All(ctx))
	if len(missing) > 0 {
		h.Logger.Warn("balances without usable rate", slog.Any("currencies", missing))
	}

	writeJSON(w, http.StatusOK, BalancesDTO{
		AsOf:      asOf.String(),
		Balances:  currencyMap(balances),
		InUSD:     currencyMap(eq.InUSD),
		TotalUSD:  eq.TotalUSD,
		Projected: projected,
	})
}

// GetSummary returns USD totals and the expense breakdown by category.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)

	asOf, ok := h.dateParam(w, r, "as_of")
	if !ok {
		return
	}
	s, err := h.Ledger.Summary(ctx, owner, asOf)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		AsOf:               s.AsOf.String(),
		TotalIncomeUSD:     s.TotalIncomeUSD,
		TotalExpenseUSD:    s.TotalExpenseUSD,
		NetUSD:             s.NetUSD,
		ExpensesByCategory: s.ExpensesByCategory,
		EntryCount:         s.EntryCount,
	})
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// ListRates returns the rate currently served for each currency.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	all := h.Rates.All(r.Context())
	out := make(map[string]decimal.Decimal, len(all))
	for c, v := range all {
		out[string(c)] = v
	}
	writeJSON(w, http.StatusOK, RatesDTO{Rates: out})
}

// SetRate stores a new rate for a currency. USD is fixed at 1.
func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	if h.RateStore == nil {
		writeError(w, http.StatusNotImplemented, "Rates are read-only", nil)
		return
	}
	currency := ledger.ParseCurrency(chi.URLParam(r, "currency"))
	if !currency.Valid() || currency == ledger.USD {
		writeError(w, http.StatusBadRequest, "Unsupported currency", ledger.ErrInvalidCurrency)
		return
	}

	var req SetRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.RateStore.SetRate(r.Context(), currency, req.Rate); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.Rates.Invalidate(currency)
	h.Logger.Info("exchange rate updated",
		slog.String("currency", string(currency)),
		slog.String("rate", req.Rate.String()),
	)
	writeJSON(w, http.StatusOK, RatesDTO{Rates: map[string]decimal.Decimal{string(currency): req.Rate}})
}

// =============================================================================
// AUTOMATION HANDLERS
// =============================================================================

// EvaluateAutomation runs the allocation rules for the owner on ?date=
// (default today). A date after today is rejected with InvalidDate.
func (h *Handler) EvaluateAutomation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)

	date, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	if date.IsZero() {
		date = h.Ledger.Today()
	}

	committed, err := h.Scheduler.Evaluate(ctx, date, owner)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{
		Date:      date.String(),
		Committed: toEntryDTOs(committed),
	})
}

// ListAutomationRuns returns the owner's committed runs.
func (h *Handler) ListAutomationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusNotImplemented, "Run history unavailable", nil)
		return
	}
	runs, err := h.Runs.ListAutomationRuns(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]AutomationRunDTO, len(runs))
	for i, run := range runs {
		ids := make([]string, len(run.EntryIDs))
		for j, id := range run.EntryIDs {
			ids[j] = string(id)
		}
		dtos[i] = AutomationRunDTO{
			Date:      run.Date.String(),
			Type:      string(run.Type),
			EntryIDs:  ids,
			CreatedAt: run.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// dateParam parses an optional YYYY-MM-DD query parameter.
func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request, name string) (ledger.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return ledger.Date{}, true
	}
	d, err := ledger.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return ledger.Date{}, false
	}
	return d, true
}

// resolveRate prefers an explicit override, then the cache. Unsupported
// currencies get a zero rate so the ledger reports the proper reason.
func (h *Handler) resolveRate(ctx context.Context, c ledger.Currency, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	rate, err := h.Rates.Rate(ctx, c)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// parseKind accepts the English names and the French form labels.
func parseKind(s string) ledger.Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "entrée", "entree":
		return ledger.KindIncome
	case "expense", "dépense", "depense":
		return ledger.KindExpense
	default:
		return ledger.Kind(s)
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	reason := ledger.Reason(err)
	status := http.StatusInternalServerError
	message := "Internal error"

	switch {
	case errors.Is(err, ledger.ErrEntryNotFound):
		status, message = http.StatusNotFound, "Entry not found"
	case ledger.IsConflict(err):
		status, message = http.StatusConflict, "Conflict"
	case ledger.IsRejection(err):
		status, message = http.StatusUnprocessableEntity, "Entry rejected"
	default:
		LoggerFromContext(r.Context(), h.Logger).Error("request failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, ErrorResponse{Error: message, Reason: reason, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
