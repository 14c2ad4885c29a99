package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"enumchron/internal/enumchron"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "FullItemList.csv", false)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	fields := enumchron.Fields{EnumA: "12", EnumB: "3", ChronI: "1995"}
	require.NoError(t, s.RecordItem(ctx, ItemRecord{
		RunID: runID, ItemPID: "231", MMSID: "991", HoldingID: "221",
		Description: "v.12 no.3 (1995)", Rule: "vol-iss+year", Fields: fields, Status: StatusFilled,
	}))
	require.NoError(t, s.RecordItem(ctx, ItemRecord{
		RunID: runID, ItemPID: "232", MMSID: "991", HoldingID: "221",
		Description: "Index", Status: StatusUnmatched,
	}))
	require.NoError(t, s.FinishRun(ctx, runID, Counts{Total: 2, Filled: 1, Unmatched: 1}, false))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "FullItemList.csv", runs[0].Input)
	assert.False(t, runs[0].DryRun)
	assert.False(t, runs[0].FinishedAt.IsZero())
	assert.True(t, runs[0].FinishedAt.After(runs[0].StartedAt))
	assert.Equal(t, Counts{Total: 2, Filled: 1, Unmatched: 1}, runs[0].Counts)

	items, err := s.Items(ctx, runID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	if diff := cmp.Diff(fields, items[0].Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "vol-iss+year", items[0].Rule)
	assert.Equal(t, StatusUnmatched, items[1].Status)
	assert.True(t, items[1].Fields.IsZero())
}

func TestApplied(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Applied(ctx, "231")
	require.NoError(t, err)
	assert.False(t, ok)

	dry, err := s.BeginRun(ctx, "in.csv", true)
	require.NoError(t, err)
	require.NoError(t, s.RecordItem(ctx, ItemRecord{RunID: dry, ItemPID: "231", Fields: enumchron.Fields{EnumA: "1"}, Status: StatusFilled}))

	_, ok, err = s.Applied(ctx, "231")
	require.NoError(t, err)
	assert.False(t, ok, "dry runs never count as applied")

	first, err := s.BeginRun(ctx, "in.csv", false)
	require.NoError(t, err)
	require.NoError(t, s.RecordItem(ctx, ItemRecord{RunID: first, ItemPID: "231", Fields: enumchron.Fields{EnumA: "1"}, Status: StatusFilled}))
	second, err := s.BeginRun(ctx, "in.csv", false)
	require.NoError(t, err)
	require.NoError(t, s.RecordItem(ctx, ItemRecord{RunID: second, ItemPID: "231", Fields: enumchron.Fields{EnumA: "2"}, Status: StatusFilled}))
	require.NoError(t, s.RecordItem(ctx, ItemRecord{RunID: second, ItemPID: "231", Status: StatusFailed, Error: "boom"}))

	got, ok, err := s.Applied(ctx, "231")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, enumchron.Fields{EnumA: "2"}, got)
}

func TestRunsNewestFirstAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.BeginRun(ctx, "in.csv", false)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())

	all, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResolveRunID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.BeginRun(ctx, "in.csv", false)
	require.NoError(t, err)

	got, err := s.ResolveRunID(ctx, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.ResolveRunID(ctx, "zzzz")
	require.Error(t, err)
}

func TestFinishRun_Unknown(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.FinishRun(context.Background(), "missing", Counts{}, false))
}

func TestRecordItem_RequiresRun(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.RecordItem(context.Background(), ItemRecord{ItemPID: "1"}))
}

func TestOpen_MigratesOldLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY, started_at TEXT NOT NULL, finished_at TEXT, input TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0, halted INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0, filled INTEGER NOT NULL DEFAULT 0,
			unmatched INTEGER NOT NULL DEFAULT 0, skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0);
		CREATE TABLE item_updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL, item_pid TEXT NOT NULL,
			mms_id TEXT NOT NULL, holding_id TEXT NOT NULL, description TEXT NOT NULL,
			rule TEXT, fields_json TEXT, status TEXT NOT NULL, error TEXT, at TEXT NOT NULL);
		INSERT INTO runs (id, started_at, input) VALUES ('old-run', '2023-01-01T00:00:00.000000000Z', 'x.csv');
		INSERT INTO item_updates (run_id, item_pid, mms_id, holding_id, description, fields_json, status, at)
			VALUES ('old-run', '231', '991', '221', 'v.1', '{"enum_a":"1"}', 'filled', '2023-01-01T00:00:01.000000000Z');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, col := range []string{"previous_json", "barcode"} {
		has, err := columnExists(s.db, "item_updates", col)
		require.NoError(t, err)
		assert.True(t, has, col)
	}

	records, err := s.Items(context.Background(), "old-run")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Fields.EnumA)
	assert.Empty(t, records[0].Barcode)
	assert.True(t, records[0].Previous.IsZero())

	applied, err := runMigrations(s.db)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestRecordItem_PreviousAndBarcode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, err := s.BeginRun(ctx, "in.csv", false)
	require.NoError(t, err)

	require.NoError(t, s.RecordItem(ctx, ItemRecord{
		RunID: runID, ItemPID: "231", MMSID: "991", HoldingID: "221", Barcode: "39000",
		Description: "v.2", Rule: "volume", Status: StatusFilled,
		Fields:   enumchron.Fields{EnumA: "2"},
		Previous: enumchron.Fields{EnumA: "1", ChronI: "1990"},
	}))

	records, err := s.Items(ctx, runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "39000", records[0].Barcode)
	assert.Equal(t, enumchron.Fields{EnumA: "1", ChronI: "1990"}, records[0].Previous)
}
