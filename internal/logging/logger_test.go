package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// decode parses one JSON log record per line.
func decode(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_FileInDir(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	for _, log := range []func(string, ...any){logger.Debug, logger.Info, logger.Warn, logger.Error} {
		log("message", "key", "value")
	}
	logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading %s: %v", LogFileName, err)
	}
	entries := decode(t, data)
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if len(entries) != len(levels) {
		t.Fatalf("got %d records, want %d", len(entries), len(levels))
	}
	for i, e := range entries {
		if e["level"] != levels[i] || e["key"] != "value" {
			t.Errorf("record %d = %v, want level %s with key=value", i, e, levels[i])
		}
	}
}

func TestNewLogger_StderrWithoutDir(t *testing.T) {
	logger, err := NewLogger("", LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()
	if logger.out.rw != nil {
		t.Error("no file should be opened without a dir")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn)
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	if n := len(decode(t, buf.Bytes())); n != 2 {
		t.Fatalf("got %d records at WARN, want 2: %s", n, buf.String())
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)

	child := logger.WithThread("th_1").WithTurn("turn-1").WithWorker("math").WithPhase("dispatching")
	child.Info("test message", "extra", "data")

	entry := decode(t, buf.Bytes())[0]

	want := map[string]string{
		"thread_id": "th_1",
		"turn_id":   "turn-1",
		"worker":    "math",
		"phase":     "dispatching",
		"extra":     "data",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("expected %s=%s, got %v", k, v, entry[k])
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)

	if logger.With() != logger {
		t.Error("With() with no args should return the same logger")
	}

	logger.With("foo", "bar", 7, "skipped", "count", 42).Info("test message")

	entry := decode(t, buf.Bytes())[0]
	if entry["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %v", entry["foo"])
	}
	if entry["count"] != float64(42) {
		t.Errorf("expected count=42, got %v", entry["count"])
	}
}

func TestChildDoesNotLeakAttrs(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger(&buf, LevelInfo)
	_ = parent.WithWorker("web")

	parent.Info("parent")

	entry := decode(t, buf.Bytes())[0]
	if _, ok := entry["worker"]; ok {
		t.Error("parent logger should not carry child attributes")
	}
}

func TestEnabled(t *testing.T) {
	logger := NewWriterLogger(&bytes.Buffer{}, LevelWarn)
	if logger.Enabled(LevelInfo) {
		t.Error("INFO should be disabled at WARN")
	}
	if !logger.WithThread("th").Enabled("error") {
		t.Error("children should share the parent's level")
	}
}

func TestCloseSharedWithChildren(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	child := logger.WithTurn("turn-1")
	child.Info("before close")

	if err := child.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"Warn":  LevelWarn,
		"error": LevelError,
		"bogus": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() = %v", ValidLevels())
	}
}
