package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "banking.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func records(n int) []ledger.RawRecord {
	out := make([]ledger.RawRecord, n)
	for i := range out {
		out[i] = ledger.RawRecord{
			TransactionID:   fmt.Sprintf("%d", 1000+i),
			TransactionDate: "2024-01-02 10:00:00",
			Amount:          "12.50",
			Branch:          "London",
			TransactionType: "Credit",
			CustomerName:    "Customer_1",
		}
	}
	return out
}

func TestAppendCountFetch(t *testing.T) {
	t.Parallel()

	store := openTemp(t)
	ctx := context.Background()

	n, err := store.Append(ctx, records(25))
	require.NoError(t, err)
	require.Equal(t, 25, n)

	total, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 25, total)

	chunk, err := store.Fetch(ctx, 20, 10)
	require.NoError(t, err)
	require.Len(t, chunk, 5, "final chunk is shorter")
	require.Equal(t, "1020", chunk[0].TransactionID)
	require.EqualValues(t, 21, chunk[0].RowID)

	empty, err := store.Fetch(ctx, 25, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAppendEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store := openTemp(t)
	n, err := store.Append(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOpenValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "")
	require.Error(t, err)
	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), "bad-name")
	require.Error(t, err)
}
