package statestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := openTestSQLite(t)

	s, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestSQLiteStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in := State{
		Status:        StatusError,
		Message:       "Review failed",
		SourceDocPath: "/ws/specs/billing.md",
		Error:         "claude exited",
		ErrorKind:     "CRASH",
		StartedAt:     &started,
	}
	require.NoError(t, store.Set(ctx, "billing", in))

	out, err := store.Get(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, "claude exited", out.Error)
	assert.Equal(t, in.ErrorKind, out.ErrorKind)
	require.NotNil(t, out.StartedAt)
	assert.True(t, out.StartedAt.Equal(started))
	assert.NotNil(t, out.UpdatedAt)

	// Overwrite, not merge.
	require.NoError(t, store.Set(ctx, "billing", State{Status: StatusIdle, Message: "reset"}))
	out, err = store.Get(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, out.Status)
	assert.Empty(t, out.Error)
	assert.Nil(t, out.StartedAt)
}

func TestSQLiteStore_ActiveWithoutStartedAt(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	require.NoError(t, store.Set(ctx, "billing", State{Status: StatusDecomposing}))
	out, err := store.Get(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, StatusDecomposing, out.Status)
	assert.Nil(t, out.StartedAt)
	assert.NotNil(t, out.UpdatedAt)
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	require.NoError(t, store.Set(ctx, "older", State{Status: StatusIdle}))
	now = now.Add(time.Minute)
	require.NoError(t, store.Set(ctx, "newer", State{Status: StatusIdle}))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "older"}, ids)
}

func TestSQLiteStore_ReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "billing", State{Status: StatusCompleted, Verdict: VerdictFail}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	s, err := second.Get(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, s.Verdict)
}
