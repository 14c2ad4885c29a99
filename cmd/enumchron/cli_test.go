package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"enumchron/internal/alma"
	"enumchron/internal/config"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const exportCSV = `MMS_ID,Holdings_ID,Item_ID,Description,Permanent Location
991001,221001,231001,v.1 (1995),STACKS
991001,221001,231002,Index,STACKS
991001,221001,231003,v.3 no.2 (1997 Spring),ANNEX
`

// setupCLI resets globals and points every file at a temp workspace.
func setupCLI(t *testing.T, baseURL string) (dir string, out *bytes.Buffer, cmd *cobra.Command) {
	t.Helper()
	logger = zap.NewNop()
	inputPath, filledPath, location = "", "", ""
	dryRun, overwrite, noProgress = false, false, true
	limit, samples, historyLimit = 0, 20, 10
	showPatterns = false

	dir = t.TempDir()
	cfg = config.DefaultConfig()
	cfg.Alma.APIKey = "test-key"
	cfg.Alma.BaseURL = baseURL
	cfg.Alma.Interval = "0s"
	cfg.Alma.MaxRetries = 1
	cfg.Files.Input = filepath.Join(dir, "FullItemList.csv")
	cfg.Files.Filled = filepath.Join(dir, "FilledEnumChron.csv")
	cfg.Files.ErrorLog = filepath.Join(dir, "errors.log")
	cfg.Files.StateDir = filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(cfg.Files.Input, []byte(exportCSV), 0644))

	out = &bytes.Buffer{}
	cmd = &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	return dir, out, cmd
}

// almaServer serves items by pid; statuses overrides the response code for
// a pid's GET.
func almaServer(t *testing.T, statuses map[string]int) (*httptest.Server, map[string]string) {
	t.Helper()
	puts := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pid := path.Base(r.URL.Path)
		if code, ok := statuses[pid]; ok && r.Method == http.MethodGet {
			w.WriteHeader(code)
			return
		}
		w.Header().Set(alma.RemainingHeader, "1000")
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body)
			puts[pid] = string(body)
			_, _ = w.Write(body)
			return
		}
		fmt.Fprintf(w, `<item><bib_data><mms_id>991001</mms_id></bib_data><item_data><pid>%s</pid><description>x</description></item_data></item>`, pid)
	}))
	t.Cleanup(server.Close)
	return server, puts
}

func readCSV(t *testing.T, p string) [][]string {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunBatch_FillsAndRewritesExport(t *testing.T) {
	server, puts := almaServer(t, nil)
	_, out, cmd := setupCLI(t, server.URL)

	require.NoError(t, runBatch(cmd, nil))

	assert.Contains(t, puts["231001"], "<enumeration_a>1</enumeration_a>")
	assert.Contains(t, puts["231001"], "<chronology_i>1995</chronology_i>")
	assert.Contains(t, puts["231003"], "<chronology_j>21</chronology_j>")
	assert.NotContains(t, puts, "231002")

	filled := readCSV(t, cfg.Files.Filled)
	require.Len(t, filled, 3)
	assert.Equal(t, []string{"Timestamp", "MMS_ID", "Holdings_ID", "Item_ID", "Description", "Location",
		"Enum_A", "Enum_B", "Enum_C", "Chron_I", "Chron_J", "Chron_K"}, filled[0])
	assert.Equal(t, "231001", filled[1][3])
	assert.Equal(t, "1", filled[1][6])

	remaining := readCSV(t, cfg.Files.Input)
	require.Len(t, remaining, 2)
	assert.Equal(t, "231002", remaining[1][2])

	assert.Contains(t, out.String(), "filled     2")
	assert.Contains(t, out.String(), "remaining: 1000")
}

func TestRunBatch_RateLimitKeepsUnprocessedRows(t *testing.T) {
	server, puts := almaServer(t, map[string]int{"231003": http.StatusTooManyRequests})
	_, _, cmd := setupCLI(t, server.URL)

	err := runBatch(cmd, nil)
	require.Error(t, err)
	assert.True(t, alma.IsRateLimited(err))
	assert.Contains(t, puts, "231001")

	remaining := readCSV(t, cfg.Files.Input)
	require.Len(t, remaining, 3)
	assert.Equal(t, "231002", remaining[1][2])
	assert.Equal(t, "231003", remaining[2][2])
}

func TestRunBatch_DryRunWritesNoFiles(t *testing.T) {
	_, out, cmd := setupCLI(t, "http://127.0.0.1:1")
	dryRun = true

	require.NoError(t, runBatch(cmd, nil))

	_, err := os.Stat(cfg.Files.Filled)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(cfg.Files.Input)
	require.NoError(t, err)
	assert.Equal(t, exportCSV, string(data))
	assert.Contains(t, out.String(), "Dry run summary")
}

func TestRunBatch_LocationAndLimit(t *testing.T) {
	server, puts := almaServer(t, nil)
	_, _, cmd := setupCLI(t, server.URL)
	location = "annex"

	require.NoError(t, runBatch(cmd, nil))
	assert.Len(t, puts, 1)
	assert.Contains(t, puts, "231003")

	remaining := readCSV(t, cfg.Files.Input)
	require.Len(t, remaining, 3, "header plus the two STACKS rows")
}

func TestRunBatch_RequiresAPIKey(t *testing.T) {
	_, _, cmd := setupCLI(t, "http://127.0.0.1:1")
	cfg.Alma.APIKey = ""
	require.Error(t, runBatch(cmd, nil))
}

func TestApplyRunFlags_Overwrite(t *testing.T) {
	_, _, cmd := setupCLI(t, "")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "")

	cfg.Batch.Overwrite = true
	applyRunFlags(cmd)
	assert.True(t, cfg.Batch.Overwrite, "config value kept when the flag is absent")

	require.NoError(t, cmd.Flags().Set("overwrite", "false"))
	applyRunFlags(cmd)
	assert.False(t, cfg.Batch.Overwrite, "explicit --overwrite=false wins over config")

	cfg.Batch.Overwrite = false
	require.NoError(t, cmd.Flags().Set("overwrite", "true"))
	applyRunFlags(cmd)
	assert.True(t, cfg.Batch.Overwrite)
}

func TestHistoryAfterRun(t *testing.T) {
	server, _ := almaServer(t, nil)
	_, out, cmd := setupCLI(t, server.URL)
	require.NoError(t, runBatch(cmd, nil))

	out.Reset()
	require.NoError(t, runHistory(cmd, nil))
	assert.Contains(t, out.String(), "2 filled, 1 unmatched")

	out.Reset()
	require.NoError(t, runUsage(cmd, nil))
	assert.Contains(t, out.String(), "calls 4")
}

func TestParseCmd(t *testing.T) {
	_, out, cmd := setupCLI(t, "")
	require.NoError(t, runParse(cmd, []string{"v.30 (Nov-Feb 1996)", "Index"}))
	assert.Contains(t, out.String(), "11-02")
	assert.Contains(t, out.String(), "no rule matched")

	out.Reset()
	cmd.SetIn(strings.NewReader("v.12\n\n"))
	require.NoError(t, runParse(cmd, nil))
	assert.Contains(t, out.String(), "Enum_A")
}

func TestClassifyAndRulesCmd(t *testing.T) {
	_, out, cmd := setupCLI(t, "")
	require.NoError(t, runClassify(cmd, nil))
	assert.Contains(t, out.String(), "matched 2")
	assert.Contains(t, out.String(), "Index")

	out.Reset()
	require.NoError(t, runRules(cmd, nil))
	assert.Contains(t, out.String(), "first match wins")
}
