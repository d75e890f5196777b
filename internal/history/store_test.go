package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"newapi-checkin/db"
	"newapi-checkin/internal/checkin"
	"newapi-checkin/internal/provider"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	conn, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	s := New(conn, nil)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testSummary(runID string, started time.Time) checkin.Summary {
	award := 25.0
	return checkin.Aggregate(runID, started, []checkin.Result{
		{
			AccountName:  "A",
			Provider:     "anyrouter",
			Method:       "cookies",
			Status:       checkin.StateSucceeded,
			Message:      "签到成功",
			QuotaAwarded: &award,
			Balance:      &provider.Balance{Quota: 35, UsedQuota: 2},
			Timestamp:    started.Add(time.Second),
		},
		{
			AccountName: "B",
			Provider:    "anyrouter",
			Status:      checkin.StateFailed,
			Kind:        checkin.KindUnauthorized,
			Message:     "anyrouter: unauthorized (HTTP 401)",
			Timestamp:   started.Add(time.Second),
		},
	})
}

func TestStore_SaveAndRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	started := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, testSummary("run-1", started)))
	require.NoError(t, s.Save(ctx, testSummary("run-2", started.Add(24*time.Hour))))

	rows, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "run-2", rows[0].RunID)
	require.Equal(t, "A", rows[0].Account)
	require.Equal(t, "B", rows[1].Account)

	a := rows[0]
	require.Equal(t, "succeeded", a.Status)
	require.Equal(t, "cookies", a.Method)
	require.NotNil(t, a.Quota)
	require.InDelta(t, 35.0, *a.Quota, 0.001)
	require.NotNil(t, a.QuotaAwarded)
	require.InDelta(t, 25.0, *a.QuotaAwarded, 0.001)

	b := rows[1]
	require.Equal(t, "failed", b.Status)
	require.Equal(t, "unauthorized", b.Kind)
	require.Nil(t, b.Quota)

	onlyB, err := s.Recent(ctx, "B", 10)
	require.NoError(t, err)
	require.Len(t, onlyB, 2)

	var runs int
	require.NoError(t, s.db.Get(&runs, `SELECT count(*) FROM checkin_runs`))
	require.Equal(t, 2, runs)
}

func TestStore_SaveIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	started := time.Now()

	require.NoError(t, s.Save(ctx, testSummary("dup", started)))
	require.Error(t, s.Save(ctx, testSummary("dup", started)), "run_id is a primary key")

	rows, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStore_RejectsInvalidRows(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	bad := checkin.Aggregate("run", time.Now(), []checkin.Result{{AccountName: "", Provider: "p", Status: checkin.StateFailed, Timestamp: time.Now()}})
	require.Error(t, s.Save(context.Background(), bad))
}

func TestStore_Disabled(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	require.False(t, s.Enabled())
	require.NoError(t, s.Save(context.Background(), testSummary("run", time.Now())))

	_, err := s.Recent(context.Background(), "", 1)
	require.ErrorIs(t, err, db.ErrSQLiteDisabled)
	require.ErrorIs(t, s.Migrate(context.Background()), db.ErrSQLiteDisabled)
}

func TestNewStore_PrefersSQLite(t *testing.T) {
	t.Parallel()

	sqlite := &sqlx.DB{}
	pg := &sqlx.DB{}
	require.Same(t, sqlite, NewStore(NewStoreParams{SQLite: sqlite, Postgres: pg}).db)
	require.Same(t, pg, NewStore(NewStoreParams{Postgres: pg}).db)
	require.Nil(t, NewStore(NewStoreParams{}).db)
}
