package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["message"] != "shown" {
		t.Errorf("unexpected message %v", lines[0]["message"])
	}
	if lines[0]["service"] != "promptopt" {
		t.Errorf("expected service field, got %v", lines[0]["service"])
	}
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.Component("engine").RunLogger("aor_1").TrackLogger(2).Info().Msg("scoped")

	lines := decodeLines(t, &buf)
	if lines[0]["component"] != "engine" || lines[0]["run_id"] != "aor_1" || lines[0]["track_id"] != float64(2) {
		t.Errorf("missing scoped fields: %v", lines[0])
	}
}

func TestLogOracleCall_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.LogOracleCall("score_response", "gpt-4o-mini", 150*time.Millisecond, 2, errors.New("boom"))

	lines := decodeLines(t, &buf)
	if lines[0]["level"] != "error" || lines[0]["error"] != "boom" {
		t.Errorf("expected error entry, got %v", lines[0])
	}
	if lines[0]["operation"] != "score_response" {
		t.Errorf("expected operation field, got %v", lines[0]["operation"])
	}
}

func TestNop(t *testing.T) {
	// Must not panic
	Nop().Info().Str("k", "v").Msg("discarded")
}
