package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed line of relay.log.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Message  string         `json:"msg"`
	ThreadID string         `json:"thread_id,omitempty"`
	TurnID   string         `json:"turn_id,omitempty"`
	Worker   string         `json:"worker,omitempty"`
	Phase    string         `json:"phase,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Set fields are combined with AND.
type Filter struct {
	// Level keeps entries at or above it.
	Level    string
	Since    time.Time
	Until    time.Time
	ThreadID string
	TurnID   string
	Worker   string
	// Contains matches a substring of the message.
	Contains string
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// contextKeys are lifted out of Attrs into Entry fields.
var contextKeys = map[string]bool{
	"time": true, "level": true, "msg": true,
	"thread_id": true, "turn_id": true, "worker": true, "phase": true,
}

// ReadEntries parses relay.log in dir together with its rotated backups,
// gzipped or not, and returns the entries in time order. Lines that are
// not JSON are skipped.
func ReadEntries(dir string) ([]Entry, error) {
	base := filepath.Join(dir, LogFileName)
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no %s in %s", LogFileName, dir)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	backups, err := filepath.Glob(base + ".*")
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, path := range append(backups, base) {
		got, err := readFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, got...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	return parseEntries(r)
}

func parseEntries(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if e, err := parseEntry(line); err == nil {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return entries, nil
}

func parseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, err
	}

	str := func(k string) string {
		s, _ := raw[k].(string)
		return s
	}
	e := Entry{
		Level:    str("level"),
		Message:  str("msg"),
		ThreadID: str("thread_id"),
		TurnID:   str("turn_id"),
		Worker:   str("worker"),
		Phase:    str("phase"),
	}
	if t, err := time.Parse(time.RFC3339Nano, str("time")); err == nil {
		e.Time = t
	}
	for k, v := range raw {
		if contextKeys[k] {
			continue
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]any)
		}
		e.Attrs[k] = v
	}
	return e, nil
}

// Match reports whether e passes every set field of f.
func (f Filter) Match(e Entry) bool {
	if f.Level != "" {
		want, okWant := levelRank[strings.ToUpper(f.Level)]
		got, okGot := levelRank[strings.ToUpper(e.Level)]
		if okWant && okGot && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Time.After(f.Until) {
		return false
	}
	if f.ThreadID != "" && e.ThreadID != f.ThreadID {
		return false
	}
	if f.TurnID != "" && e.TurnID != f.TurnID {
		return false
	}
	if f.Worker != "" && e.Worker != f.Worker {
		return false
	}
	if f.Contains != "" && !strings.Contains(e.Message, f.Contains) {
		return false
	}
	return true
}

// FilterEntries returns the entries f matches.
func FilterEntries(entries []Entry, f Filter) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// ExportFormats lists the formats WriteEntries accepts.
func ExportFormats() []string { return []string{"text", "json", "csv"} }

// WriteEntries writes entries to w as text, json or csv.
func WriteEntries(w io.Writer, entries []Entry, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		return writeText(w, entries)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []Entry{}
		}
		return enc.Encode(entries)
	case "csv":
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(ExportFormats(), ", "))
	}
}

// writeText emits one line per entry:
// [time] LEVEL msg (thread=.. turn=.. worker=..) {attrs}
func writeText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %-5s %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

		var ctx []string
		for _, kv := range [][2]string{{"thread", e.ThreadID}, {"turn", e.TurnID}, {"worker", e.Worker}, {"phase", e.Phase}} {
			if kv[1] != "" {
				ctx = append(ctx, kv[0]+"="+kv[1])
			}
		}
		if len(ctx) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(ctx, " "))
		}
		if len(e.Attrs) > 0 {
			attrs, _ := json.Marshal(e.Attrs)
			b.WriteString(" ")
			b.Write(attrs)
		}
		b.WriteString("\n")
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "level", "msg", "thread_id", "turn_id", "worker", "phase", "attrs"}); err != nil {
		return err
	}
	for _, e := range entries {
		var attrs string
		if len(e.Attrs) > 0 {
			b, _ := json.Marshal(e.Attrs)
			attrs = string(b)
		}
		if err := cw.Write([]string{
			e.Time.Format(time.RFC3339Nano), e.Level, e.Message,
			e.ThreadID, e.TurnID, e.Worker, e.Phase, attrs,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
