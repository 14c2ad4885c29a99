// Package store keeps a SQLite ledger of batch runs and the item updates
// each run made.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"enumchron/internal/enumchron"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Item update statuses written by the batch runner.
const (
	StatusFilled    = "filled"
	StatusUnmatched = "unmatched"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusHalted    = "halted"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Counts are the per-outcome row totals of a run.
type Counts struct {
	Total     int `json:"total"`
	Filled    int `json:"filled"`
	Unmatched int `json:"unmatched"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Run is one invocation of the batch job.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress or if it crashed
	Input      string
	DryRun     bool
	Halted     bool
	Counts     Counts
}

// ItemRecord is the outcome for one export row.
type ItemRecord struct {
	RunID       string
	ItemPID     string
	MMSID       string
	HoldingID   string
	Barcode     string
	Description string
	Rule        string
	Fields      enumchron.Fields
	Previous    enumchron.Fields // values on the item before it was overwritten
	Status      string
	Error       string
	At          time.Time
}

// Store is the run ledger.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create ledger directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize ledger schema")
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		input TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		halted INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		filled INTEGER NOT NULL DEFAULT 0,
		unmatched INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS item_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		item_pid TEXT NOT NULL,
		mms_id TEXT NOT NULL,
		holding_id TEXT NOT NULL,
		description TEXT NOT NULL,
		rule TEXT,
		fields_json TEXT,
		status TEXT NOT NULL,
		error TEXT,
		at TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_updates_run ON item_updates(run_id);
	CREATE INDEX IF NOT EXISTS idx_updates_item ON item_updates(item_pid, status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := runMigrations(s.db)
	return err
}

// BeginRun records the start of a run and returns its id.
func (s *Store) BeginRun(ctx context.Context, input string, dryRun bool) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, input, dry_run) VALUES (?, ?, ?, ?)`,
		id, s.now().UTC().Format(timeLayout), input, boolInt(dryRun))
	if err != nil {
		return "", errors.Wrap(err, "insert run")
	}
	return id, nil
}

// RecordItem stores the outcome of one row.
func (s *Store) RecordItem(ctx context.Context, rec ItemRecord) error {
	if rec.RunID == "" {
		return errors.New("record item: missing run id")
	}
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	fieldsJSON, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}
	previousJSON, err := encodeFields(rec.Previous)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO item_updates
			(run_id, item_pid, mms_id, holding_id, barcode, description, rule,
			 fields_json, previous_json, status, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ItemPID, rec.MMSID, rec.HoldingID, nullString(rec.Barcode),
		rec.Description, nullString(rec.Rule), fieldsJSON, previousJSON,
		rec.Status, nullString(rec.Error), at.UTC().Format(timeLayout))
	if err != nil {
		return errors.Wrapf(err, "insert item update %s", rec.ItemPID)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, counts Counts, halted bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, halted = ?, total = ?, filled = ?,
			unmatched = ?, skipped = ?, failed = ?
		WHERE id = ?`,
		s.now().UTC().Format(timeLayout), boolInt(halted), counts.Total, counts.Filled,
		counts.Unmatched, counts.Skipped, counts.Failed, runID)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

// Applied returns the fields most recently written to the item by a
// non-dry run. ok is false when the item was never updated.
func (s *Store) Applied(ctx context.Context, itemPID string) (enumchron.Fields, bool, error) {
	var fieldsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT u.fields_json FROM item_updates u
		JOIN runs r ON r.id = u.run_id
		WHERE u.item_pid = ? AND u.status = ? AND r.dry_run = 0
		ORDER BY u.at DESC, u.id DESC LIMIT 1`,
		itemPID, StatusFilled).Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return enumchron.Fields{}, false, nil
	}
	if err != nil {
		return enumchron.Fields{}, false, errors.Wrapf(err, "query applied fields for %s", itemPID)
	}
	fields, err := decodeFields(fieldsJSON)
	if err != nil {
		return enumchron.Fields{}, false, err
	}
	return fields, true, nil
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, input, dry_run, halted,
		total, filled, unmatched, skipped, failed
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r              Run
			started        string
			finished       sql.NullString
			dryRun, halted int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Input, &dryRun, &halted,
			&r.Counts.Total, &r.Counts.Filled, &r.Counts.Unmatched, &r.Counts.Skipped, &r.Counts.Failed); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			r.FinishedAt = parseTime(finished.String)
		}
		r.DryRun = dryRun != 0
		r.Halted = halted != 0
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}

// Items returns the item records of a run in the order they were written.
func (s *Store) Items(ctx context.Context, runID string) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, item_pid, mms_id, holding_id, barcode, description, rule,
			fields_json, previous_json, status, error, at
		FROM item_updates WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "query items of run %s", runID)
	}
	defer rows.Close()

	var records []ItemRecord
	for rows.Next() {
		var (
			rec                   ItemRecord
			barcode, rule, errMsg sql.NullString
			fieldsJSON, prevJSON  sql.NullString
			at                    string
		)
		if err := rows.Scan(&rec.RunID, &rec.ItemPID, &rec.MMSID, &rec.HoldingID, &barcode,
			&rec.Description, &rule, &fieldsJSON, &prevJSON, &rec.Status, &errMsg, &at); err != nil {
			return nil, errors.Wrap(err, "scan item update")
		}
		rec.Barcode = barcode.String
		rec.Rule = rule.String
		rec.Error = errMsg.String
		rec.At = parseTime(at)
		var err error
		if rec.Fields, err = decodeFields(fieldsJSON); err != nil {
			return nil, err
		}
		if rec.Previous, err = decodeFields(prevJSON); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "iterate item updates")
}

// ResolveRunID expands a unique run id prefix to the full id.
func (s *Store) ResolveRunID(ctx context.Context, prefix string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs WHERE id LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return "", errors.Wrap(err, "query run ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", errors.Wrap(err, "scan run id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(err, "iterate run ids")
	}
	switch len(ids) {
	case 0:
		return "", errors.Errorf("no run matches %q", prefix)
	case 1:
		return ids[0], nil
	default:
		return "", errors.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

func encodeFields(f enumchron.Fields) (sql.NullString, error) {
	if f.IsZero() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "marshal fields")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeFields(v sql.NullString) (enumchron.Fields, error) {
	var f enumchron.Fields
	if !v.Valid || v.String == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(v.String), &f); err != nil {
		return f, errors.Wrap(err, "decode fields")
	}
	return f, nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
