package main

import (
	"log/slog"
	"testing"
)

func TestApplyOverrideReplacesOnValue(t *testing.T) {
	dst := "from-config"
	applyOverride(&dst, "from-flag")
	if dst != "from-flag" {
		t.Fatalf("expected from-flag, got %q", dst)
	}
}

func TestApplyOverrideKeepsOnBlank(t *testing.T) {
	dst := "from-config"
	applyOverride(&dst, "")
	if dst != "from-config" {
		t.Fatalf("expected from-config, got %q", dst)
	}
	applyOverride(&dst, "   ")
	if dst != "from-config" {
		t.Fatalf("expected whitespace to be ignored, got %q", dst)
	}
}

func TestApplyOverrideTrims(t *testing.T) {
	dst := ""
	applyOverride(&dst, "  board-1  ")
	if dst != "board-1" {
		t.Fatalf("expected trimmed value, got %q", dst)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLogLevel(tc.raw); got != tc.want {
			t.Fatalf("parseLogLevel(%q): expected %v, got %v", tc.raw, tc.want, got)
		}
	}
}
