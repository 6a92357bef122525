package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

const sampleLog = `{"time":"2026-01-02T10:00:02Z","level":"ERROR","msg":"mount failed","session_id":"def456","component":"driver","files":3}
{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"session started","session_id":"abc123","component":"session"}
garbage line
{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"script failed","session_id":"abc123","component":"driver","step_id":"s-1","command":"npm install"}

`

func writeSampleLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), LogFileName)
	if err := os.WriteFile(path, []byte(sampleLog), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseEntry(t *testing.T) {
	e, err := ParseEntry(`{"time":"2026-01-02T10:00:01.5Z","level":"WARN","msg":"script failed","session_id":"abc","component":"driver","step_id":"s-1","exit_code":1}`)
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if e.Level != LevelWarn || e.Message != "script failed" || e.SessionID != "abc" || e.Component != "driver" || e.StepID != "s-1" {
		t.Errorf("ParseEntry() = %+v", e)
	}
	if !e.Timestamp.Equal(time.Date(2026, 1, 2, 10, 0, 1, 500_000_000, time.UTC)) {
		t.Errorf("Timestamp = %v", e.Timestamp)
	}
	if len(e.Attrs) != 1 || e.Attrs["exit_code"] != float64(1) {
		t.Errorf("Attrs = %v, want only exit_code", e.Attrs)
	}

	if _, err := ParseEntry("not json"); err == nil {
		t.Error("ParseEntry() should reject non-JSON lines")
	}
}

func TestLogFilterMatch(t *testing.T) {
	entry := LogEntry{
		Timestamp: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		Level:     LevelWarn,
		Message:   "script failed",
		SessionID: "abc123",
		Component: "driver",
		Attrs:     map[string]any{"command": "npm install"},
	}

	tests := []struct {
		name   string
		filter LogFilter
		want   bool
	}{
		{"empty filter", LogFilter{}, true},
		{"level below", LogFilter{Level: "info"}, true},
		{"level above", LogFilter{Level: LevelError}, false},
		{"since before", LogFilter{Since: entry.Timestamp.Add(-time.Minute)}, true},
		{"since after", LogFilter{Since: entry.Timestamp.Add(time.Minute)}, false},
		{"session prefix", LogFilter{SessionPrefix: "abc"}, true},
		{"other session", LogFilter{SessionPrefix: "def"}, false},
		{"component", LogFilter{Component: "driver"}, true},
		{"other component", LogFilter{Component: "session"}, false},
		{"pattern on attrs", LogFilter{Pattern: regexp.MustCompile(`npm`)}, true},
		{"pattern miss", LogFilter{Pattern: regexp.MustCompile(`docker`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(entry); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadLogFile(t *testing.T) {
	path := writeSampleLog(t)

	entries, skipped, err := ReadLogFile(path, LogFilter{})
	if err != nil {
		t.Fatalf("ReadLogFile() error = %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	var msgs []string
	for _, e := range entries {
		msgs = append(msgs, e.Message)
	}
	if got := strings.Join(msgs, ","); got != "session started,script failed,mount failed" {
		t.Errorf("entries = %s, want oldest first", got)
	}

	entries, _, err = ReadLogFile(path, LogFilter{Component: "driver", Level: LevelWarn})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d driver warnings, want 2", len(entries))
	}

	if _, _, err := ReadLogFile(filepath.Join(t.TempDir(), "missing.log"), LogFilter{}); err == nil {
		t.Error("ReadLogFile() should fail for a missing file")
	}
}

func TestExportLogEntries(t *testing.T) {
	entries, _, err := ReadLogFile(writeSampleLog(t), LogFilter{SessionPrefix: "abc"})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := ExportLogEntries(&buf, entries, "json"); err != nil {
			t.Fatal(err)
		}
		var decoded []LogEntry
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("export is not JSON: %v", err)
		}
		if len(decoded) != 2 || decoded[1].StepID != "s-1" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := ExportLogEntries(&buf, entries, "TEXT"); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("got %d lines, want 2", len(lines))
		}
		want := `[2026-01-02 10:00:01.000] WARN - script failed (session=abc123, component=driver, step=s-1) {"command":"npm install"}`
		if lines[1] != want {
			t.Errorf("line = %q\nwant   %q", lines[1], want)
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := ExportLogEntries(&buf, entries, "csv"); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want header plus 2", len(lines))
		}
		if !strings.HasPrefix(lines[2], "2026-01-02T10:00:01Z,WARN,script failed,abc123,driver,s-1,") {
			t.Errorf("record = %q", lines[2])
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if err := ExportLogEntries(&bytes.Buffer{}, entries, "xml"); err == nil {
			t.Error("ExportLogEntries() should reject xml")
		}
	})
}
