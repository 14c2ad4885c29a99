package inventory

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"enumchron/internal/enumchron"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportWithSpaces = "\ufeffMMS ID,Holdings ID,Item ID,Title,Description,Permanent Location\n" +
	"991000000000123,221000000000456,231000000000789,Journal of Things,  v.12   no.3 ,MAIN\n" +
	"991000000000124,221000000000457,231000000000790,Journal of Things,v.13,ANNEX\n" +
	",,,,,\n" +
	"991000000000125,221000000000458,231000000000791,Other,Index\n"

func TestLoad_NormalizesColumnsAndDescriptions(t *testing.T) {
	sheet, err := Load(strings.NewReader(exportWithSpaces))
	require.NoError(t, err)

	assert.Equal(t, []string{"MMS_ID", "Holdings_ID", "Item_ID", "Title", "Description", "Location"}, sheet.Header)
	require.Len(t, sheet.Rows, 3, "blank record should be dropped")

	first := sheet.Rows[0]
	assert.Equal(t, "991000000000123", first.MMSID)
	assert.Equal(t, "221000000000456", first.HoldingID)
	assert.Equal(t, "231000000000789", first.ItemID)
	assert.Equal(t, "v.12 no.3", first.Description)
	assert.Equal(t, "v.12 no.3", first.Record[4])
	assert.Equal(t, "MAIN", first.Location)
	assert.Equal(t, 2, first.Line)

	// Short record padded to header width.
	last := sheet.Rows[2]
	assert.Len(t, last.Record, len(sheet.Header))
	assert.Equal(t, "", last.Location)
	assert.Equal(t, 5, last.Line)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	assert.ErrorContains(t, err, "empty")

	_, err = Load(strings.NewReader("MMS ID,Item ID,Description\n1,2,v.1\n"))
	assert.ErrorContains(t, err, `"Holdings_ID"`)
}

func TestNormalizeColumn(t *testing.T) {
	assert.Equal(t, "Item_ID", NormalizeColumn(" Item ID "))
	assert.Equal(t, "Item_ID", NormalizeColumn("Item_ID"))
	assert.Equal(t, "Location", NormalizeColumn("Permanent Location"))
	assert.Equal(t, "MMS_ID", NormalizeColumn("\ufeffMMS ID"))
}

func TestSheet_Select(t *testing.T) {
	sheet, err := Load(strings.NewReader(exportWithSpaces))
	require.NoError(t, err)

	selected, rest := sheet.Select("", 0)
	assert.Len(t, selected, 3)
	assert.Empty(t, rest)

	selected, rest = sheet.Select("main", 0)
	require.Len(t, selected, 1)
	assert.Equal(t, "231000000000789", selected[0].ItemID)
	assert.Len(t, rest, 2)

	selected, rest = sheet.Select("", 2)
	assert.Len(t, selected, 2)
	require.Len(t, rest, 1)
	assert.Equal(t, "231000000000791", rest[0].ItemID)
}

func TestAppendFilled_WritesHeaderOnce(t *testing.T) {
	sheet, err := Load(strings.NewReader(exportWithSpaces))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "FilledEnumChron.csv")
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	entries := []Filled{{Row: sheet.Rows[0], Fields: enumchron.Fields{EnumA: "12", EnumB: "3"}}}
	require.NoError(t, AppendFilled(path, sheet.Header, entries, now))

	entries = []Filled{{Row: sheet.Rows[1], Fields: enumchron.Fields{EnumA: "13"}}}
	require.NoError(t, AppendFilled(path, sheet.Header, entries, now.Add(time.Hour)))

	// Nothing to append leaves the file alone.
	require.NoError(t, AppendFilled(path, sheet.Header, nil, now))

	records := readCSV(t, path)
	require.Len(t, records, 3)

	assert.Equal(t, "Timestamp", records[0][0])
	assert.Equal(t, "Location", records[0][6])
	assert.Equal(t, enumchron.Columns, records[0][7:])

	assert.Equal(t, "2024-03-01 09:30:00", records[1][0])
	assert.Equal(t, "231000000000789", records[1][3])
	assert.Equal(t, []string{"12", "3", "", "", "", ""}, records[1][7:])

	assert.Equal(t, "2024-03-01 10:30:00", records[2][0])
	assert.Equal(t, "13", records[2][7])
}

func TestWriteRemaining_ReplacesExport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "FullItemList.csv")
	require.NoError(t, os.WriteFile(path, []byte(exportWithSpaces), 0644))

	sheet, err := LoadFile(path)
	require.NoError(t, err)

	done := map[*Row]bool{sheet.Rows[0]: true}
	require.NoError(t, WriteRemaining(path, sheet.Header, sheet.Without(done)))

	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sheet.Header, reloaded.Header)
	require.Len(t, reloaded.Rows, 2)
	assert.Equal(t, "231000000000790", reloaded.Rows[0].ItemID)
	assert.Equal(t, "231000000000791", reloaded.Rows[1].ItemID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should not be left behind")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}
