package store

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

// Migration adds a column that older ledgers lack.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after the first ledger layout.
var pendingMigrations = []Migration{
	// Enumeration/chronology on the item before an overwrite
	{"item_updates", "previous_json", "TEXT"},
	// Item barcode, for matching ledger entries to shelf checks
	{"item_updates", "barcode", "TEXT"},
}

// runMigrations applies pending column migrations and returns how many ran.
func runMigrations(db *sql.DB) (int, error) {
	applied := 0
	for _, m := range pendingMigrations {
		exists, err := tableExists(db, m.Table)
		if err != nil {
			return applied, err
		}
		if !exists {
			continue
		}
		has, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return applied, err
		}
		if has {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return applied, errors.Wrapf(err, "add column %s.%s", m.Table, m.Column)
		}
		applied++
	}
	return applied, nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, errors.Wrapf(err, "table info %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dfltValue        any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, errors.Wrap(err, "scan table info")
		}
		if name == column {
			return true, nil
		}
	}
	return false, errors.Wrap(rows.Err(), "iterate table info")
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "check table %s", table)
	}
	return count > 0, nil
}
