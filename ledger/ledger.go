/*
ledger.go - Ledger service

PURPOSE:
  Orchestrates the admission path for every entry, manual or scheduled:

    classify origin -> load owner entries -> balances as of today
      -> Validate -> duplicate check (manual only) -> ToUSD -> Store.Append

  The whole path runs inside one store transaction, so the balance read and
  the append form a single critical section.

INVARIANTS:
  - AmountUSD and ExchangeRate are computed here, once, and recomputed
    together only by an Update that changes the amount or the currency,
    or that carries an explicit rate
  - Balances are replayed from the log on every call; nothing is cached
  - Update and Delete are owner-scoped; a foreign id is ErrEntryNotFound
  - Update and Delete never leave a realized balance below zero
  - Observer and the "entry recorded" log fire only after commit

SEE ALSO:
  - validator.go, duplicate.go, balance.go: the pure decision functions
  - allocation/scheduler.go: calls RecordIn inside its own transaction
*/
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Observer is notified of admission outcomes. metrics.Collectors implements it.
type Observer interface {
	EntryRecorded(origin Origin)
	EntryRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) EntryRecorded(Origin)  {}
func (nopObserver) EntryRejected(string) {}

// Ledger is the entry admission service.
type Ledger struct {
	Store    TxStore
	Clock    Clock
	Logger   *slog.Logger
	Observer Observer

	now func() time.Time
}

// New creates a Ledger. A nil clock means the system clock.
func New(store TxStore, clock Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Store:    store,
		Clock:    clock,
		Logger:   logger,
		Observer: nopObserver{},
		now:      time.Now,
	}
}

func (l *Ledger) observer() Observer {
	if l.Observer == nil {
		return nopObserver{}
	}
	return l.Observer
}

// Today is the ledger clock's current day.
func (l *Ledger) Today() Date { return l.Clock.Today() }

// =============================================================================
// WRITES
// =============================================================================

// Record validates and persists a candidate entry. rate is the
// USD-to-currency rate supplied by the caller; it is ignored for USD.
func (l *Ledger) Record(ctx context.Context, in EntryInput, rate decimal.Decimal) (Entry, error) {
	var recorded Entry
	today := l.Clock.Today()
	err := l.Store.WithTx(ctx, func(s Store) error {
		e, err := l.RecordIn(ctx, s, in, rate, today)
		if err != nil {
			return err
		}
		recorded = e
		return nil
	})
	if err != nil {
		return Entry{}, wrapStore("record", err)
	}
	l.Committed(recorded)
	return recorded, nil
}

// RecordIn runs the admission path against s, which is usually the Store
// handed out by an enclosing WithTx. today decides which entries are
// realized and which candidates are forecasts. The caller reports the
// entry with Committed once its transaction commits.
func (l *Ledger) RecordIn(ctx context.Context, s Store, in EntryInput, rate decimal.Decimal, today Date) (Entry, error) {
	e := Entry{
		OwnerID:      in.OwnerID,
		Date:         in.Date,
		Kind:         in.Kind,
		Amount:       in.Amount,
		Currency:     in.Currency,
		Category:     strings.TrimSpace(in.Category),
		Description:  in.Description,
		ExchangeRate: effectiveRate(in.Currency, rate),
		Origin:       Classify(in.Origin, in.Date, today),
	}

	entries, err := s.ListByOwner(ctx, in.OwnerID)
	if err != nil {
		return Entry{}, wrapStore("list", err)
	}
	if err := l.admit(e, entries, today); err != nil {
		return Entry{}, err
	}

	e.AmountUSD, _ = ToUSD(e.Amount, e.Currency, e.ExchangeRate)
	if !e.AmountUSD.IsPositive() {
		return Entry{}, l.reject(e, ErrInvalidAmount)
	}
	e.CreatedAt = l.now().UTC()

	id, err := s.Append(ctx, e)
	if err != nil {
		return Entry{}, wrapStore("append", err)
	}
	e.ID = id
	return e, nil
}

// Committed notifies the Observer and logs entries whose transaction has
// committed.
func (l *Ledger) Committed(entries ...Entry) {
	for _, e := range entries {
		l.observer().EntryRecorded(e.Origin)
		l.Logger.Info("entry recorded",
			slog.String("owner", string(e.OwnerID)),
			slog.String("id", string(e.ID)),
			slog.String("origin", string(e.Origin)),
			slog.String("kind", string(e.Kind)),
			slog.String("amount", e.Amount.String()),
			slog.String("currency", string(e.Currency)),
		)
	}
}

// admit runs the validator and, for manual entries, the duplicate detector.
// entries must not contain e itself.
func (l *Ledger) admit(e Entry, entries []Entry, today Date) error {
	balances := ComputeBalances(e.OwnerID, entries, today)
	if err := Validate(e, balances, today); err != nil {
		return l.reject(e, err)
	}
	if dup, ok := IsDuplicate(e, entries); ok {
		return l.reject(e, &DuplicateEntryError{ExistingID: dup.ID, Date: e.Date, Category: e.Category})
	}
	return nil
}

func (l *Ledger) reject(e Entry, err error) error {
	reason := Reason(err)
	l.observer().EntryRejected(reason)
	l.Logger.Info("entry rejected",
		slog.String("owner", string(e.OwnerID)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return err
}

// Update applies an explicit edit to entry id. The edited entry is
// re-validated against balances that exclude its previous version. The
// stored ExchangeRate and AmountUSD are kept unless the amount or the
// currency changes (repriced at rate) or patch.ExchangeRate is set.
func (l *Ledger) Update(ctx context.Context, owner OwnerID, id EntryID, patch EntryPatch, rate decimal.Decimal) (Entry, error) {
	var (
		updated  Entry
		repriced bool
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		entries, err := s.ListByOwner(ctx, owner)
		if err != nil {
			return wrapStore("list", err)
		}
		existing, others, found := split(entries, id)
		if !found {
			return ErrEntryNotFound
		}

		today := l.Clock.Today()
		e := patch.apply(existing)
		e.Category = strings.TrimSpace(e.Category)
		e.Origin = Classify(existing.Origin, e.Date, today)

		repriced = patch.ExchangeRate != nil ||
			e.Currency != existing.Currency ||
			!e.Amount.Equal(existing.Amount)
		if patch.ExchangeRate != nil {
			rate = *patch.ExchangeRate
		}
		if repriced {
			e.ExchangeRate = effectiveRate(e.Currency, rate)
		}

		if err := l.admit(e, others, today); err != nil {
			return err
		}
		if repriced {
			e.AmountUSD, _ = ToUSD(e.Amount, e.Currency, e.ExchangeRate)
			if !e.AmountUSD.IsPositive() {
				return l.reject(e, ErrInvalidAmount)
			}
		}
		if err := coversRealized(owner, append(others, e), today, existing.Currency, e.Currency); err != nil {
			return l.reject(e, err)
		}

		ok, err := s.UpdateByID(ctx, id, owner, e)
		if err != nil {
			return wrapStore("update", err)
		}
		if !ok {
			return ErrEntryNotFound
		}
		updated = e
		return nil
	})
	if err != nil {
		return Entry{}, wrapStore("update", err)
	}

	l.Logger.Info("entry updated",
		slog.String("owner", string(owner)),
		slog.String("id", string(id)),
		slog.Bool("repriced", repriced),
	)
	return updated, nil
}

// Delete removes entry id of owner. Removing an income that later
// expenses rely on is rejected with InsufficientFunds.
func (l *Ledger) Delete(ctx context.Context, owner OwnerID, id EntryID) error {
	err := l.Store.WithTx(ctx, func(s Store) error {
		entries, err := s.ListByOwner(ctx, owner)
		if err != nil {
			return wrapStore("list", err)
		}
		existing, others, found := split(entries, id)
		if !found {
			return ErrEntryNotFound
		}
		if err := coversRealized(owner, others, l.Clock.Today(), existing.Currency); err != nil {
			return l.reject(existing, err)
		}

		ok, err := s.DeleteByID(ctx, id, owner)
		if err != nil {
			return wrapStore("delete", err)
		}
		if !ok {
			return ErrEntryNotFound
		}
		return nil
	})
	if err != nil {
		return wrapStore("delete", err)
	}
	l.Logger.Info("entry deleted",
		slog.String("owner", string(owner)),
		slog.String("id", string(id)),
	)
	return nil
}

// split separates entry id from the rest of entries.
func split(entries []Entry, id EntryID) (Entry, []Entry, bool) {
	var (
		existing Entry
		found    bool
		others   = make([]Entry, 0, len(entries))
	)
	for _, e := range entries {
		if e.ID == id {
			existing, found = e, true
			continue
		}
		others = append(others, e)
	}
	return existing, others, found
}

// coversRealized fails when the realized balance of any of currencies,
// replayed over entries, is below zero.
func coversRealized(owner OwnerID, entries []Entry, today Date, currencies ...Currency) error {
	balances := ComputeBalances(owner, entries, today)
	for _, c := range currencies {
		if b := balances.Of(c); b.IsNegative() {
			return &InsufficientFundsError{Currency: c, Available: decimal.Zero, Requested: b.Neg()}
		}
	}
	return nil
}

// =============================================================================
// READS - Always replayed from the store
// =============================================================================

// Entries returns the owner's entries in display order.
func (l *Ledger) Entries(ctx context.Context, owner OwnerID) ([]Entry, error) {
	entries, err := l.Store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, wrapStore("list", err)
	}
	SortForDisplay(entries)
	return entries, nil
}

// Balances returns realized balances as of asOf; a zero asOf means today.
func (l *Ledger) Balances(ctx context.Context, owner OwnerID, asOf Date) (Balances, error) {
	entries, err := l.Store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, wrapStore("list", err)
	}
	return ComputeBalances(owner, entries, l.orToday(asOf)), nil
}

// Projected returns balances as of asOf including forecast entries.
func (l *Ledger) Projected(ctx context.Context, owner OwnerID, asOf Date) (Balances, error) {
	entries, err := l.Store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, wrapStore("list", err)
	}
	return ProjectBalances(owner, entries, l.orToday(asOf)), nil
}

// Summary returns the USD-normalized analysis as of asOf.
func (l *Ledger) Summary(ctx context.Context, owner OwnerID, asOf Date) (Summary, error) {
	entries, err := l.Store.ListByOwner(ctx, owner)
	if err != nil {
		return Summary{}, wrapStore("list", err)
	}
	return Summarize(owner, entries, l.orToday(asOf)), nil
}

// History returns realized entries with their running balance.
func (l *Ledger) History(ctx context.Context, owner OwnerID, asOf Date) ([]RunningBalance, error) {
	entries, err := l.Store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, wrapStore("list", err)
	}
	return History(owner, entries, l.orToday(asOf)), nil
}

func (l *Ledger) orToday(d Date) Date {
	if d.IsZero() {
		return l.Clock.Today()
	}
	return d
}
