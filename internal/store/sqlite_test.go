package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/femasync/internal/declarations"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "femasync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteReplaceRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	declared := time.Date(2017, 8, 25, 0, 0, 0, 0, time.UTC)
	batch := declarations.Batch{
		Columns: []string{"declarationdate", "disasternumber", "state"},
		Rows: [][]any{
			{declared, int64(4332), "TX"},
			{nil, int64(4339), "FL"},
		},
	}

	n, err := s.Replace(ctx, "incident_data", batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.db.QueryContext(ctx,
		`SELECT disasternumber, state, declarationdate FROM incident_data ORDER BY disasternumber`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		num   int64
		state string
		date  *string
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.num, &r.state, &r.date))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)

	assert.Equal(t, int64(4332), got[0].num)
	assert.Equal(t, "TX", got[0].state)
	require.NotNil(t, got[0].date)
	assert.Equal(t, "2017-08-25T00:00:00Z", *got[0].date)

	assert.Equal(t, int64(4339), got[1].num)
	assert.Nil(t, got[1].date)
}

func TestSQLiteReplaceDropsPreviousContents(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := declarations.Batch{
		Columns: []string{"state"},
		Rows:    [][]any{{"TX"}, {"FL"}, {"CA"}},
	}
	_, err := s.Replace(ctx, "incident_data", first)
	require.NoError(t, err)

	second := declarations.Batch{
		Columns: []string{"state"},
		Rows:    [][]any{{"PR"}},
	}
	n, err := s.Replace(ctx, "incident_data", second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT count(*) FROM incident_data").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteReplaceEmptyBatch(t *testing.T) {
	s := newTestSQLite(t)

	n, err := s.Replace(context.Background(), "incident_data", declarations.Batch{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// No table should have been created.
	var count int
	err = s.db.QueryRow("SELECT count(*) FROM incident_data").Scan(&count)
	assert.Error(t, err)
}

func TestSQLiteSyncLog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id1, err := s.StartSync(ctx, "run-a")
	require.NoError(t, err)
	id2, err := s.StartSync(ctx, "run-b")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.NoError(t, s.CompleteSync(ctx, id1, 68000))
	require.NoError(t, s.FailSync(ctx, id2, "fetch: boom"))

	entries, err := s.ListSyncs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first.
	assert.Equal(t, id2, entries[0].ID)
	assert.Equal(t, "failed", entries[0].Status)
	assert.Equal(t, "fetch: boom", entries[0].Error)
	require.NotNil(t, entries[0].CompletedAt)

	assert.Equal(t, id1, entries[1].ID)
	assert.Equal(t, "complete", entries[1].Status)
	assert.Equal(t, int64(68000), entries[1].RowsSynced)
}
