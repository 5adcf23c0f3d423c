package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.SaveBalance(ctx, "acct-1", 100))
	require.NoError(t, store.SaveBalance(ctx, "acct-1", 60))
	require.NoError(t, store.SaveBalance(ctx, "acct-2", 5))

	accounts, err := store.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"acct-1": 60, "acct-2": 5}, accounts)

	base := time.Now().Add(-time.Minute)
	for i, reason := range []EntryReason{ReasonCredit, ReasonReserve, ReasonRefund} {
		require.NoError(t, store.AppendEntry(ctx, Entry{
			ID:        "entry-" + string(reason),
			AccountID: "acct-1",
			Delta:     int64(i),
			Balance:   60,
			Reason:    reason,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := store.Entries(ctx, "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ReasonRefund, entries[0].Reason)
	assert.Equal(t, ReasonReserve, entries[1].Reason)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveBalance(context.Background(), "acct-1", 42))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	accounts, err := reopened.LoadAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), accounts["acct-1"])
}
