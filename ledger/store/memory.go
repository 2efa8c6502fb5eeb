// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/franga/engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[ledger.OwnerID][]ledger.Entry
	runs    map[runKey]ledger.AutomationRun
	owners  map[ledger.OwnerID]bool

	// NewID assigns entry ids. Defaults to time-ordered UUIDv7s.
	NewID func() ledger.EntryID
}

type runKey struct {
	OwnerID ledger.OwnerID
	Date    string
	Type    ledger.AutomationType
}

func keyOf(owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) runKey {
	return runKey{OwnerID: owner, Date: date.String(), Type: t}
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[ledger.OwnerID][]ledger.Entry),
		runs:    make(map[runKey]ledger.AutomationRun),
		owners:  make(map[ledger.OwnerID]bool),
		NewID:   func() ledger.EntryID { return ledger.EntryID(uuid.Must(uuid.NewV7()).String()) },
	}
}

// Append stores e under a fresh id.
func (m *Memory) Append(_ context.Context, e ledger.Entry) (ledger.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e), nil
}

func (m *Memory) appendLocked(e ledger.Entry) ledger.EntryID {
	e.ID = m.NewID()
	m.entries[e.OwnerID] = append(m.entries[e.OwnerID], e)
	return e.ID
}

func (m *Memory) ListByOwner(_ context.Context, owner ledger.OwnerID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(owner), nil
}

func (m *Memory) listLocked(owner ledger.OwnerID) []ledger.Entry {
	result := make([]ledger.Entry, len(m.entries[owner]))
	copy(result, m.entries[owner])
	return result
}

func (m *Memory) UpdateByID(_ context.Context, id ledger.EntryID, owner ledger.OwnerID, e ledger.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, owner, e), nil
}

func (m *Memory) updateLocked(id ledger.EntryID, owner ledger.OwnerID, e ledger.Entry) bool {
	entries := m.entries[owner]
	for i := range entries {
		if entries[i].ID == id {
			e.ID = id
			e.OwnerID = owner
			entries[i] = e
			return true
		}
	}
	return false
}

func (m *Memory) DeleteByID(_ context.Context, id ledger.EntryID, owner ledger.OwnerID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id, owner), nil
}

func (m *Memory) deleteLocked(id ledger.EntryID, owner ledger.OwnerID) bool {
	entries := m.entries[owner]
	for i := range entries {
		if entries[i].ID == id {
			m.entries[owner] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Memory) HasAutomationRun(_ context.Context, owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.runs[keyOf(owner, date, t)]
	return ok, nil
}

func (m *Memory) RecordAutomationRun(_ context.Context, run ledger.AutomationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordRunLocked(run)
}

func (m *Memory) recordRunLocked(run ledger.AutomationRun) error {
	k := keyOf(run.OwnerID, run.Date, run.Type)
	if _, ok := m.runs[k]; ok {
		return ledger.ErrAutomationRunExists
	}
	m.runs[k] = run
	return nil
}

// RegisterOwner records owner as known.
func (m *Memory) RegisterOwner(_ context.Context, owner ledger.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[owner] = true
	return nil
}

// ListOwners returns every owner with entries, runs or a registration, sorted.
func (m *Memory) ListOwners(_ context.Context) ([]ledger.OwnerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.OwnerID]bool, len(m.owners))
	for owner := range m.owners {
		seen[owner] = true
	}
	for owner, entries := range m.entries {
		if len(entries) > 0 {
			seen[owner] = true
		}
	}
	for k := range m.runs {
		seen[k.OwnerID] = true
	}
	owners := make([]ledger.OwnerID, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// ListAutomationRuns returns owner's runs, newest date first.
func (m *Memory) ListAutomationRuns(_ context.Context, owner ledger.OwnerID) ([]ledger.AutomationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []ledger.AutomationRun
	for k, run := range m.runs {
		if k.OwnerID == owner {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Date.Equal(runs[j].Date) {
			return runs[i].Date.After(runs[j].Date)
		}
		return runs[i].Type < runs[j].Type
	})
	return runs, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. The state is snapshotted
// first and restored if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries map[ledger.OwnerID][]ledger.Entry
	runs    map[runKey]ledger.AutomationRun
}

func (m *Memory) snapshot() memorySnapshot {
	entries := make(map[ledger.OwnerID][]ledger.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]ledger.Entry{}, v...)
	}
	runs := make(map[runKey]ledger.AutomationRun, len(m.runs))
	for k, v := range m.runs {
		runs[k] = v
	}
	return memorySnapshot{entries: entries, runs: runs}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.runs = s.runs
}

// txView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it uses the *Locked helpers directly.
type txView struct {
	parent *Memory
}

func (tv *txView) Append(_ context.Context, e ledger.Entry) (ledger.EntryID, error) {
	return tv.parent.appendLocked(e), nil
}

func (tv *txView) ListByOwner(_ context.Context, owner ledger.OwnerID) ([]ledger.Entry, error) {
	return tv.parent.listLocked(owner), nil
}

func (tv *txView) UpdateByID(_ context.Context, id ledger.EntryID, owner ledger.OwnerID, e ledger.Entry) (bool, error) {
	return tv.parent.updateLocked(id, owner, e), nil
}

func (tv *txView) DeleteByID(_ context.Context, id ledger.EntryID, owner ledger.OwnerID) (bool, error) {
	return tv.parent.deleteLocked(id, owner), nil
}

func (tv *txView) HasAutomationRun(_ context.Context, owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) (bool, error) {
	_, ok := tv.parent.runs[keyOf(owner, date, t)]
	return ok, nil
}

func (tv *txView) RecordAutomationRun(_ context.Context, run ledger.AutomationRun) error {
	return tv.parent.recordRunLocked(run)
}
