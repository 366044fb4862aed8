package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradehub/tradehub-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_WALEnabled(t *testing.T) {
	st := newTestSQLiteStore(t)

	var mode string
	require.NoError(t, st.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_CorruptResultSurfaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.StrategyDiagonal)
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `UPDATE runs SET result = ? WHERE id = ?`, "{not json", run.ID)
	require.NoError(t, err)

	_, err = st.GetRun(ctx, run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal result")
	assert.NotErrorIs(t, err, ErrRunNotFound)
}

func TestSQLite_ClosedDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "closed.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	_, err = st.CreateRun(context.Background(), model.StrategyCSP)
	assert.Error(t, err)
	_, err = st.ListRuns(context.Background(), RunFilter{})
	assert.Error(t, err)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	run, err := st.CreateRun(ctx, model.StrategyVerticalBullPut)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyVerticalBullPut, got.Strategy)
}
