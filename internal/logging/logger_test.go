package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewConsole_VerboseEnablesDebug(t *testing.T) {
	logger, err := NewConsole(Options{Level: "error", Verbose: true})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("verbose logger should enable debug")
	}

	quiet, err := NewConsole(Options{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}
	if quiet.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("warn logger should not enable info")
	}
}

func TestNewErrorLog_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "errors.log")

	for i := 0; i < 2; i++ {
		logger, closeFn, err := NewErrorLog(path)
		if err != nil {
			t.Fatalf("NewErrorLog: %v", err)
		}
		logger.Error("update failed", zap.String("item_pid", "231"), zap.Int("attempt", i))
		if err := closeFn(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if got := strings.Count(content, "update failed"); got != 2 {
		t.Fatalf("log has %d entries, want 2:\n%s", got, content)
	}
	if !strings.Contains(content, "item_pid") || !strings.Contains(content, "231") {
		t.Fatalf("log missing fields:\n%s", content)
	}
}

func TestNewErrorLog_EmptyPathIsNop(t *testing.T) {
	logger, closeFn, err := NewErrorLog("")
	if err != nil {
		t.Fatalf("NewErrorLog: %v", err)
	}
	logger.Error("ignored")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
