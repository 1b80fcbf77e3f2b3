package cmd

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewBackendsWarnsAboutVolatileState(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	directory, resourceManager := newBackends(logger)
	if directory == nil || resourceManager == nil {
		t.Fatal("backends must be wired")
	}

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "in-memory") {
		t.Errorf("wiring the in-memory backends must always warn, got:\n%s", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "warn", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "bogus", want: slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := parseLogLevel(tc.level); got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tc.level, got, tc.want)
		}
	}
}
