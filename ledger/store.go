/*
store.go - Persistence boundary

PURPOSE:
  The narrow contract the engine needs from durable storage. Everything the
  store returns is plain data; all business rules live in this package.

KEY INTERFACES:
  Store:           append, list-by-owner, owner-scoped update/delete, automation runs
  TxStore:         Store + WithTx for all-or-nothing operations
  OwnerLister:     owners known to the store (background allocation runner)
  OwnerRegistrar:  records an owner seen at the auth boundary
  RunLister:       automation run history (display)

UNIQUENESS:
  RecordAutomationRun MUST fail with ErrAutomationRunExists when the
  (owner, date, type) key is present. Implementations enforce this
  themselves (unique index, locked map) rather than trusting callers.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: production SQLite
*/
package ledger

import "context"

// Store persists entries and automation runs.
type Store interface {
	// Append persists e and returns the id the store assigned.
	Append(ctx context.Context, e Entry) (EntryID, error)

	// ListByOwner returns every entry of owner, in insertion order.
	ListByOwner(ctx context.Context, owner OwnerID) ([]Entry, error)

	// UpdateByID replaces the stored entry id of owner with e.
	// Returns false when no such entry exists for owner.
	UpdateByID(ctx context.Context, id EntryID, owner OwnerID, e Entry) (bool, error)

	// DeleteByID removes entry id of owner. Returns false when absent.
	DeleteByID(ctx context.Context, id EntryID, owner OwnerID) (bool, error)

	HasAutomationRun(ctx context.Context, owner OwnerID, date Date, t AutomationType) (bool, error)

	// RecordAutomationRun fails with ErrAutomationRunExists if the key exists.
	RecordAutomationRun(ctx context.Context, run AutomationRun) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error every
	// write made through the passed Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// OwnerLister lists every owner that has at least one entry or run, or
// that was registered.
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]OwnerID, error)
}

// OwnerRegistrar remembers an owner before their first entry, so the
// background runner evaluates them too. Registering twice is a no-op.
type OwnerRegistrar interface {
	RegisterOwner(ctx context.Context, owner OwnerID) error
}

// RunLister returns an owner's automation runs, newest first.
type RunLister interface {
	ListAutomationRuns(ctx context.Context, owner OwnerID) ([]AutomationRun, error)
}
