// Package inventory reads the item export CSV and writes the bookkeeping
// files produced by a batch run: the appended "filled" log and the
// replacement export holding the rows that still need work.
package inventory

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"enumchron/internal/enumchron"

	"github.com/pkg/errors"
)

// Normalized column names the loader relies on.
const (
	ColItemID      = "Item_ID"
	ColHoldingID   = "Holdings_ID"
	ColMMSID       = "MMS_ID"
	ColDescription = "Description"
	ColLocation    = "Location"
)

var requiredColumns = []string{ColItemID, ColHoldingID, ColMMSID, ColDescription}

// Exports spell columns either with spaces or underscores, and some name the
// location column after the permanent location.
var columnAliases = map[string]string{
	"Permanent_Location": ColLocation,
}

const utf8BOM = "\ufeff"

// Row is one item from the export.
type Row struct {
	Line        int // 1-based record number in the source file; the header is record 1
	MMSID       string
	HoldingID   string
	ItemID      string
	Description string
	Location    string

	// Record holds every column in header order, with Description normalized.
	Record []string
}

// Sheet is a loaded export.
type Sheet struct {
	Header []string
	Rows   []*Row
}

// NormalizeColumn maps an export column name to its canonical form.
func NormalizeColumn(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(name, utf8BOM)), " ", "_")
	if alias, ok := columnAliases[name]; ok {
		return alias
	}
	return name
}

// Load reads an export. Identifier columns are kept verbatim as text.
func Load(r io.Reader) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("export is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		header[i] = NormalizeColumn(h)
		if _, dup := index[header[i]]; !dup {
			index[header[i]] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, errors.Errorf("export is missing column %q", col)
		}
	}
	locIdx, hasLoc := index[ColLocation]
	descIdx := index[ColDescription]

	sheet := &Sheet{Header: header}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read record %d", line)
		}
		if isBlank(rec) {
			continue
		}
		// Pad ragged records so every row can be written back with the header.
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		rec[descIdx] = enumchron.Normalize(rec[descIdx])

		row := &Row{
			Line:        line,
			MMSID:       strings.TrimSpace(rec[index[ColMMSID]]),
			HoldingID:   strings.TrimSpace(rec[index[ColHoldingID]]),
			ItemID:      strings.TrimSpace(rec[index[ColItemID]]),
			Description: rec[descIdx],
			Record:      rec,
		}
		if hasLoc {
			row.Location = strings.TrimSpace(rec[locIdx])
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// LoadFile opens and loads an export from disk.
func LoadFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open export")
	}
	defer f.Close()

	sheet, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return sheet, nil
}

// Select splits rows into those to process and those left alone. An empty
// location matches every row; limit <= 0 means no limit.
func (s *Sheet) Select(location string, limit int) (selected, rest []*Row) {
	for _, row := range s.Rows {
		if location != "" && !strings.EqualFold(row.Location, location) {
			rest = append(rest, row)
			continue
		}
		if limit > 0 && len(selected) >= limit {
			rest = append(rest, row)
			continue
		}
		selected = append(selected, row)
	}
	return selected, rest
}

// Without returns the rows, in file order, that are not in done.
func (s *Sheet) Without(done map[*Row]bool) []*Row {
	out := make([]*Row, 0, len(s.Rows))
	for _, row := range s.Rows {
		if !done[row] {
			out = append(out, row)
		}
	}
	return out
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
