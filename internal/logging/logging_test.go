package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestNew_WritesLowercaseLogfmt(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "relayer", Level: "info"})

	logger.With(slog.String("component", "worker")).Warn("job failed", slog.String("job_id", "relayer_1"))
	logger.Debug("suppressed")

	line := buf.String()
	for _, want := range []string{"level=warn", "component=worker", `msg="job failed"`, "job_id=relayer_1", "service=relayer"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in log line, got %q", want, line)
		}
	}
	if strings.Contains(line, "suppressed") {
		t.Fatalf("expected debug line to be filtered, got %q", line)
	}
}
