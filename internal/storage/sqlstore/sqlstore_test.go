package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "github.com/metalagman/taskledger/internal/db"
	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/storage"
	"github.com/metalagman/taskledger/internal/storage/storagetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	db, err := dbpkg.Open(context.Background(), dbpkg.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"), dbpkg.Options{})
	require.NoError(t, err)
	return New(db, DialectSQLite)
}

func TestStoreConformanceSQLite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Port {
		return openSQLite(t)
	})
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x=$1 AND y IN ($2, $3)", pg.rebind("SELECT a FROM t WHERE x=? AND y IN (?, ?)"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "SELECT 1 WHERE x=?", lite.rebind("SELECT 1 WHERE x=?"))
}

func TestFormatTimeSortsAsText(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 900_000_000, time.UTC)
	later := base.Add(100 * time.Millisecond)
	assert.Less(t, formatTime(base), formatTime(later))

	parsed, err := parseTime(formatTime(later))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(later))

	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	assert.Equal(t, "2026-03-01T09:00:00.000000000Z", formatTime(local))
}

func TestPageClause(t *testing.T) {
	t.Parallel()

	lite := &Store{dialect: DialectSQLite}
	pg := &Store{dialect: DialectPostgres}

	assert.Equal(t, "", lite.pageClause(model.TaskFilter{}))
	assert.Equal(t, " LIMIT 10 OFFSET 0", lite.pageClause(model.TaskFilter{Limit: 10}))
	assert.Equal(t, " LIMIT 10 OFFSET 20", pg.pageClause(model.TaskFilter{Limit: 10, Offset: 20}))
	assert.Equal(t, " LIMIT -1 OFFSET 5", lite.pageClause(model.TaskFilter{Offset: 5}))
	assert.Equal(t, " OFFSET 5", pg.pageClause(model.TaskFilter{Offset: 5}))
	assert.Equal(t, "", lite.pageClause(model.TaskFilter{Offset: -3}))
}

func TestQueryTimelineEvents_MergesChunks(t *testing.T) {
	t.Parallel()

	store := openSQLite(t)
	store.idsPerQuery = 2
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// t5 holds the earliest event, t1 the latest; t3 has two events at the same instant.
	ids := []string{"t1", "t2", "t3", "t4", "t5"}
	events := []model.TimelineEvent{
		{ID: "e1", TaskID: "t1", EventType: model.EventCreated, EventDate: base.Add(5 * time.Minute)},
		{ID: "e2", TaskID: "t3", EventType: model.EventUpdated, EventDate: base.Add(2 * time.Minute)},
		{ID: "e3", TaskID: "t3", EventType: model.EventCompleted, EventDate: base.Add(2 * time.Minute)},
		{ID: "e4", TaskID: "t5", EventType: model.EventCreated, EventDate: base},
		{ID: "e5", TaskID: "t2", EventType: model.EventCreated, EventDate: base.Add(3 * time.Minute)},
		{ID: "e6", TaskID: "other", EventType: model.EventCreated, EventDate: base.Add(time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, store.SaveTimelineEvent(ctx, ev))
	}

	got, err := store.QueryTimelineEvents(ctx, ids, model.TimelineFilter{})
	require.NoError(t, err)
	var order []string
	for _, ev := range got {
		order = append(order, ev.ID)
	}
	assert.Equal(t, []string{"e4", "e2", "e3", "e5", "e1"}, order)

	got, err = store.QueryTimelineEvents(ctx, ids, model.TimelineFilter{EventTypes: []string{model.EventCreated}})
	require.NoError(t, err)
	order = order[:0]
	for _, ev := range got {
		order = append(order, ev.ID)
	}
	assert.Equal(t, []string{"e4", "e5", "e1"}, order)
}
