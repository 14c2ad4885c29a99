package inventory

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"time"

	"enumchron/internal/enumchron"

	"github.com/pkg/errors"
)

// TimestampLayout is the format of the leading column in the filled log.
const TimestampLayout = "2006-01-02 15:04:05"

// Filled pairs a row with the fields written for it.
type Filled struct {
	Row    *Row
	Fields enumchron.Fields
}

// AppendFilled appends entries to the filled log at path. The header, a
// Timestamp column followed by the export header and the derived field
// columns, is written only when the file is new or empty.
func AppendFilled(path string, header []string, entries []Filled, now time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	needsHeader := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		needsHeader = false
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "open filled log")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		cols := make([]string, 0, len(header)+len(enumchron.Columns)+1)
		cols = append(cols, "Timestamp")
		cols = append(cols, header...)
		cols = append(cols, enumchron.Columns...)
		if err := w.Write(cols); err != nil {
			return errors.Wrap(err, "write filled header")
		}
	}

	stamp := now.Format(TimestampLayout)
	for _, e := range entries {
		rec := make([]string, 0, len(e.Row.Record)+len(enumchron.Columns)+1)
		rec = append(rec, stamp)
		rec = append(rec, e.Row.Record...)
		rec = append(rec, e.Fields.Values()...)
		if err := w.Write(rec); err != nil {
			return errors.Wrapf(err, "write filled item %s", e.Row.ItemID)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush filled log")
	}
	return f.Close()
}

// WriteRemaining replaces the export at path with header and rows. The file
// is written beside the target and renamed over it.
func WriteRemaining(path string, header []string, rows []*Row) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp export")
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write export header")
	}
	for _, row := range rows {
		if err := w.Write(row.Record); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "write export record %d", row.Line)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "flush export")
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod temp export")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp export")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace export")
	}
	return nil
}
