package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franga/engine/ledger"
)

func testEntry(owner ledger.OwnerID, amount int64) ledger.Entry {
	return ledger.Entry{
		OwnerID:  owner,
		Date:     ledger.MustParseDate("2024-05-10"),
		Kind:     ledger.KindIncome,
		Amount:   decimal.NewFromInt(amount),
		Currency: ledger.USD,
		Category: "Salaire",
		Origin:   ledger.OriginManual,
	}
}

func TestMemory_AppendListIsolatesOwners(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Append(ctx, testEntry("alice", 1))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = m.Append(ctx, testEntry("bob", 2))
	require.NoError(t, err)

	alice, err := m.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, id, alice[0].ID)

	// the returned slice is a copy
	alice[0].Category = "changed"
	again, _ := m.ListByOwner(ctx, "alice")
	assert.Equal(t, "Salaire", again[0].Category)

	owners, err := m.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.OwnerID{"alice", "bob"}, owners)
}

func TestMemory_UpdateDeleteAreOwnerScoped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.Append(ctx, testEntry("alice", 1))

	ok, err := m.UpdateByID(ctx, id, "bob", testEntry("bob", 5))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.UpdateByID(ctx, id, "alice", testEntry("alice", 5))
	require.NoError(t, err)
	assert.True(t, ok)
	list, _ := m.ListByOwner(ctx, "alice")
	assert.Equal(t, id, list[0].ID, "update keeps the id")
	assert.True(t, list[0].Amount.Equal(decimal.NewFromInt(5)))

	ok, _ = m.DeleteByID(ctx, id, "bob")
	assert.False(t, ok)
	ok, _ = m.DeleteByID(ctx, id, "alice")
	assert.True(t, ok)
	list, _ = m.ListByOwner(ctx, "alice")
	assert.Empty(t, list)
}

func TestMemory_AutomationRunKeyIsUnique(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	run := ledger.AutomationRun{
		OwnerID: "alice",
		Date:    ledger.MustParseDate("2024-05-10"),
		Type:    ledger.AutomationRestocking,
	}

	require.NoError(t, m.RecordAutomationRun(ctx, run))
	assert.ErrorIs(t, m.RecordAutomationRun(ctx, run), ledger.ErrAutomationRunExists)

	// another owner, same date and type
	run.OwnerID = "bob"
	assert.NoError(t, m.RecordAutomationRun(ctx, run))

	done, err := m.HasAutomationRun(ctx, "alice", run.Date, ledger.AutomationRestocking)
	require.NoError(t, err)
	assert.True(t, done)
	done, _ = m.HasAutomationRun(ctx, "alice", run.Date, ledger.AutomationDistribution)
	assert.False(t, done)

	runs, err := m.ListAutomationRuns(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestMemory_WithTx_RollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.Append(ctx, testEntry("alice", 1))
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s ledger.Store) error {
		if _, err := s.Append(ctx, testEntry("alice", 2)); err != nil {
			return err
		}
		if err := s.RecordAutomationRun(ctx, ledger.AutomationRun{
			OwnerID: "alice",
			Date:    ledger.MustParseDate("2024-05-10"),
			Type:    ledger.AutomationRestocking,
		}); err != nil {
			return err
		}
		list, _ := s.ListByOwner(ctx, "alice")
		assert.Len(t, list, 2, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, _ := m.ListByOwner(ctx, "alice")
	assert.Len(t, list, 1)
	done, _ := m.HasAutomationRun(ctx, "alice", ledger.MustParseDate("2024-05-10"), ledger.AutomationRestocking)
	assert.False(t, done)
}

func TestMemory_WithTx_Commits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(s ledger.Store) error {
		_, err := s.Append(ctx, testEntry("alice", 2))
		return err
	})
	require.NoError(t, err)

	list, _ := m.ListByOwner(ctx, "alice")
	assert.Len(t, list, 1)
}

func TestMemory_SameDayEntriesDisplayNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []ledger.EntryID
	for i := int64(1); i <= 5; i++ {
		id, err := m.Append(ctx, testEntry("alice", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := m.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	ledger.SortForDisplay(entries)
	for i, e := range entries {
		assert.Equal(t, ids[len(ids)-1-i], e.ID)
	}
}

func TestMemory_RegisteredOwnersAreListed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RegisterOwner(ctx, "carol"))
	require.NoError(t, m.RegisterOwner(ctx, "carol"))
	_, err := m.Append(ctx, testEntry("alice", 1))
	require.NoError(t, err)

	owners, err := m.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.OwnerID{"alice", "carol"}, owners)
}
