package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "info", "json", false)
	log.Debug("hidden")
	log.Info("hub.register", "id", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "hub.register" || rec["id"] != float64(7) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "pretty", false)
	log.Warn("relay.fail", "from", 1, "to", 2, "reason", "no route")

	out := buf.String()
	for _, want := range []string{"lvl=[WARN]", "msg=relay.fail", "from=1", "to=2", `reason="no route"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("pretty output %q missing %q", out, want)
		}
	}
}
