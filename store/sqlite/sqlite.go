/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

INTERFACES IMPLEMENTED:
  ledger.TxStore:        Entry persistence with scoped transactions
  ledger.OwnerLister:    Owners known to the ledger
  ledger.OwnerRegistrar: Owners seen before their first entry
  ledger.RunLister:      Automation run history
  rates.Source:          Owner-edited exchange rates

KEY TABLES:
  entries:         One row per ledger entry; seq keeps insertion order
  automation_runs: Permanent idempotency records for scheduled allocations
  exchange_rates:  Last rate set per currency (1 USD = rate units)
  owners:          Owners registered at the auth boundary

UNIQUENESS:
  idx_automation_runs_unique enforces one run per (owner, date, type).
  RecordAutomationRun maps the constraint violation to
  ledger.ErrAutomationRunExists, so two racing ticks cannot both commit.

TRANSACTIONS:
  There is no shared session. Every method runs on the pool or, inside
  WithTx, on the transaction it was handed; reads inside a transaction see
  the writes made earlier in the same transaction.

USAGE:
  store, err := sqlite.New("./franga.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, ledger.SystemClock{}, logger)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/franga/engine/ledger"
	"github.com/franga/engine/rates"
)

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_usd TEXT NOT NULL,
		currency TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT,
		exchange_rate TEXT NOT NULL,
		origin TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_owner_date
		ON entries(owner_id, entry_date);

	-- duplicate detection scans same-day manual entries
	CREATE INDEX IF NOT EXISTS idx_entries_owner_origin
		ON entries(owner_id, origin, entry_date);

	CREATE TABLE IF NOT EXISTS automation_runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		run_date TEXT NOT NULL,
		automation_type TEXT NOT NULL,
		entry_ids_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_automation_runs_unique
		ON automation_runs(owner_id, run_date, automation_type);

	CREATE TABLE IF NOT EXISTS owners (
		owner_id TEXT PRIMARY KEY,
		registered_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exchange_rates (
		currency TEXT PRIMARY KEY,
		rate TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (ledger.Store interface)
// =============================================================================

// Append inserts e under a fresh UUIDv7. The ids sort in insertion order.
func (s *Store) Append(ctx context.Context, e ledger.Entry) (ledger.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e ledger.Entry) (ledger.EntryID, error) {
	v7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate entry id: %w", err)
	}
	id := ledger.EntryID(v7.String())
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO entries
		(id, owner_id, entry_date, kind, amount, amount_usd, currency, category,
		 description, exchange_rate, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		e.OwnerID,
		e.Date.String(),
		e.Kind,
		e.Amount.String(),
		e.AmountUSD.String(),
		e.Currency,
		e.Category,
		nullString(e.Description),
		e.ExchangeRate.String(),
		e.Origin,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to append entry: %w", err)
	}
	return id, nil
}

// ListByOwner returns the owner's entries in insertion order.
func (s *Store) ListByOwner(ctx context.Context, owner ledger.OwnerID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, owner)
}

func listEntries(ctx context.Context, q querier, owner ledger.OwnerID) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, owner_id, entry_date, kind, amount, amount_usd, currency, category,
		       description, exchange_rate, origin, created_at
		FROM entries
		WHERE owner_id = ?
		ORDER BY seq ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e           ledger.Entry
		date        string
		amount      string
		amountUSD   string
		rate        string
		description sql.NullString
		createdAt   string
	)
	err := rows.Scan(
		&e.ID, &e.OwnerID, &date, &e.Kind, &amount, &amountUSD, &e.Currency, &e.Category,
		&description, &rate, &e.Origin, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	if e.Date, err = ledger.ParseDate(date); err != nil {
		return e, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("entry %s amount: %w", e.ID, err)
	}
	if e.AmountUSD, err = decimal.NewFromString(amountUSD); err != nil {
		return e, fmt.Errorf("entry %s amount_usd: %w", e.ID, err)
	}
	if e.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return e, fmt.Errorf("entry %s exchange_rate: %w", e.ID, err)
	}
	e.Description = description.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// UpdateByID replaces the editable columns of entry id owned by owner.
func (s *Store) UpdateByID(ctx context.Context, id ledger.EntryID, owner ledger.OwnerID, e ledger.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, id, owner, e)
}

func updateEntry(ctx context.Context, q querier, id ledger.EntryID, owner ledger.OwnerID, e ledger.Entry) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE entries SET
			entry_date = ?, kind = ?, amount = ?, amount_usd = ?, currency = ?,
			category = ?, description = ?, exchange_rate = ?, origin = ?
		WHERE id = ? AND owner_id = ?
	`,
		e.Date.String(), e.Kind, e.Amount.String(), e.AmountUSD.String(), e.Currency,
		e.Category, nullString(e.Description), e.ExchangeRate.String(), e.Origin,
		id, owner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update entry: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteByID removes entry id owned by owner.
func (s *Store) DeleteByID(ctx context.Context, id ledger.EntryID, owner ledger.OwnerID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntry(ctx, s.db, id, owner)
}

func deleteEntry(ctx context.Context, q querier, id ledger.EntryID, owner ledger.OwnerID) (bool, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM entries WHERE id = ? AND owner_id = ?", id, owner)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// AUTOMATION RUNS
// =============================================================================

func (s *Store) HasAutomationRun(ctx context.Context, owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasRun(ctx, s.db, owner, date, t)
}

func hasRun(ctx context.Context, q querier, owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM automation_runs
		WHERE owner_id = ? AND run_date = ? AND automation_type = ?
	`, owner, date.String(), t).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check automation run: %w", err)
	}
	return count > 0, nil
}

// RecordAutomationRun inserts run; the unique index rejects a second run
// for the same key.
func (s *Store) RecordAutomationRun(ctx context.Context, run ledger.AutomationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordRun(ctx, s.db, run)
}

func recordRun(ctx context.Context, q querier, run ledger.AutomationRun) error {
	idsJSON, err := json.Marshal(run.EntryIDs)
	if err != nil {
		return err
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO automation_runs (id, owner_id, run_date, automation_type, entry_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), run.OwnerID, run.Date.String(), run.Type, string(idsJSON), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAutomationRunExists
		}
		return fmt.Errorf("failed to record automation run: %w", err)
	}
	return nil
}

// ListAutomationRuns returns owner's runs, newest date first.
func (s *Store) ListAutomationRuns(ctx context.Context, owner ledger.OwnerID) ([]ledger.AutomationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, run_date, automation_type, entry_ids_json, created_at
		FROM automation_runs
		WHERE owner_id = ?
		ORDER BY run_date DESC, automation_type ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.AutomationRun
	for rows.Next() {
		var (
			run       ledger.AutomationRun
			date      string
			idsJSON   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&run.OwnerID, &date, &run.Type, &idsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan automation run: %w", err)
		}
		if run.Date, err = ledger.ParseDate(date); err != nil {
			return nil, err
		}
		if idsJSON.Valid && idsJSON.String != "" {
			if err := json.Unmarshal([]byte(idsJSON.String), &run.EntryIDs); err != nil {
				return nil, fmt.Errorf("automation run %s/%s entry ids: %w", date, run.Type, err)
			}
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RegisterOwner records owner in the owners table; repeats are ignored.
func (s *Store) RegisterOwner(ctx context.Context, owner ledger.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO owners (owner_id, registered_at) VALUES (?, ?)
	`, owner, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to register owner: %w", err)
	}
	return nil
}

// ListOwners returns every owner with entries, automation runs or a
// registration.
func (s *Store) ListOwners(ctx context.Context) ([]ledger.OwnerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM entries
		UNION
		SELECT owner_id FROM automation_runs
		UNION
		SELECT owner_id FROM owners
		ORDER BY owner_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []ledger.OwnerID
	for rows.Next() {
		var owner ledger.OwnerID
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. fn's Store reads and
// writes through the transaction; an error from fn rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, e ledger.Entry) (ledger.EntryID, error) {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ListByOwner(ctx context.Context, owner ledger.OwnerID) ([]ledger.Entry, error) {
	return listEntries(ctx, ts.tx, owner)
}

func (ts *txStore) UpdateByID(ctx context.Context, id ledger.EntryID, owner ledger.OwnerID, e ledger.Entry) (bool, error) {
	return updateEntry(ctx, ts.tx, id, owner, e)
}

func (ts *txStore) DeleteByID(ctx context.Context, id ledger.EntryID, owner ledger.OwnerID) (bool, error) {
	return deleteEntry(ctx, ts.tx, id, owner)
}

func (ts *txStore) HasAutomationRun(ctx context.Context, owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) (bool, error) {
	return hasRun(ctx, ts.tx, owner, date, t)
}

func (ts *txStore) RecordAutomationRun(ctx context.Context, run ledger.AutomationRun) error {
	return recordRun(ctx, ts.tx, run)
}

// =============================================================================
// EXCHANGE RATES (rates.Source interface)
// =============================================================================

// SetRate stores the USD-to-currency rate for c.
func (s *Store) SetRate(ctx context.Context, c ledger.Currency, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ledger.ErrInvalidExchangeRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (currency, rate, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(currency) DO UPDATE SET
			rate = excluded.rate,
			updated_at = excluded.updated_at
	`, c, rate.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save rate: %w", err)
	}
	return nil
}

// Rate returns the stored rate for c, or rates.ErrRateUnavailable.
func (s *Store) Rate(ctx context.Context, c ledger.Currency) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rate string
	err := s.db.QueryRowContext(ctx, "SELECT rate FROM exchange_rates WHERE currency = ?", c).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", rates.ErrRateUnavailable, c)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load rate: %w", err)
	}
	return decimal.NewFromString(rate)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
