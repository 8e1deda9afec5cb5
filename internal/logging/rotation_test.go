package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_RotatesBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", LogFileName)
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	line := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected only 2 backups, found %s.3", path)
	}
	if got, want := rw.Size(), int64(len(line)); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}

func TestRotatingWriter_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}

	line := []byte(strings.Repeat("y", 1024))
	for i := 0; i < 10; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatal(err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("rotation should be disabled with MaxSizeMB 0")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 10*1024 {
		t.Errorf("file size = %d, want %d", info.Size(), 10*1024)
	}
}

func TestRotatingWriter_NoBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	line := []byte(strings.Repeat("z", 700*1024))
	rw.Write(line)
	rw.Write(line)

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should be kept with MaxBackups 0")
	}
	if rw.Size() != int64(len(line)) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len(line))
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatal(err)
	}

	line := []byte(strings.Repeat("c", 700*1024))
	rw.Write(line)
	rw.Write(line)
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".1.gz"); err != nil {
		t.Errorf("expected compressed backup: %v", err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), LogFileName), RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	rw.Close()
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNewRotatingLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewRotatingLogger(dir, LevelInfo, RotationConfig{MaxSizeMB: 5, MaxBackups: 1})
	if err != nil {
		t.Fatal(err)
	}
	logger.WithThread("th_1").Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `"thread_id":"th_1"`) {
		t.Errorf("log = %s", content)
	}
}
