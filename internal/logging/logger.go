package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file created inside a log directory.
const LogFileName = "relay.log"

var slogLevels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Logger writes JSON lines through log/slog. Children created with the
// With* methods share the parent's output; closing any of them closes it.
// It is safe for concurrent use.
type Logger struct {
	slog *slog.Logger
	out  *sink
}

// sink owns the log file, if any.
type sink struct {
	mu sync.Mutex
	rw *RotatingWriter
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rw == nil {
		return nil
	}
	err := s.rw.Close()
	s.rw = nil
	return err
}

// NewLogger creates a Logger that appends to {dir}/relay.log, or writes to
// stderr when dir is empty. Messages below level (DEBUG, INFO, WARN,
// ERROR; case-insensitive, INFO when unrecognized) are dropped.
func NewLogger(dir string, level string) (*Logger, error) {
	return NewRotatingLogger(dir, level, RotationConfig{})
}

// NewRotatingLogger is NewLogger with size-based rotation of relay.log.
// rc is ignored when dir is empty.
func NewRotatingLogger(dir string, level string, rc RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}
	rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), rc)
	if err != nil {
		return nil, err
	}
	l := NewWriterLogger(rw, level)
	l.out.rw = rw
	return l, nil
}

// NewWriterLogger creates a Logger that writes JSON lines to w. Close
// leaves w open.
func NewWriterLogger(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{slog: slog.New(handler), out: &sink{}}
}

func parseLevel(level string) slog.Level {
	if l, ok := slogLevels[strings.ToUpper(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

func (l *Logger) child(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), out: l.out}
}

// WithThread tags log lines with a conversation thread ID.
func (l *Logger) WithThread(threadID string) *Logger {
	return l.child("thread_id", threadID)
}

// WithTurn tags log lines with a turn ID.
func (l *Logger) WithTurn(turnID string) *Logger {
	return l.child("turn_id", turnID)
}

// WithWorker tags log lines with a worker name.
func (l *Logger) WithWorker(worker string) *Logger {
	return l.child("worker", worker)
}

// WithPhase tags log lines with a turn phase ("dispatching", "aggregate", ...).
func (l *Logger) WithPhase(phase string) *Logger {
	return l.child("phase", phase)
}

// With tags log lines with alternating key-value pairs. Pairs whose key is
// not a string are dropped, as is a trailing key without a value.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	kept := make([]any, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			kept = append(kept, key, args[i+1])
		}
	}
	return l.child(kept...)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level string) bool {
	return l.slog.Enabled(context.Background(), parseLevel(level))
}

// Debug logs msg with key-value args at DEBUG.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs msg with key-value args at INFO.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs msg with key-value args at WARN.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs msg with key-value args at ERROR.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close syncs and closes the log file. It is a no-op for stderr and
// caller-supplied writers.
func (l *Logger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}
	return l.out.close()
}

// NopLogger returns a Logger that discards everything.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, LevelError)
}

// ParseLevel normalizes level to one of the Level constants, defaulting to
// LevelInfo.
func ParseLevel(level string) string {
	up := strings.ToUpper(level)
	if _, ok := slogLevels[up]; ok {
		return up
	}
	return LevelInfo
}

// ValidLevels returns the accepted level names, most verbose first.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
