package utils

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerToFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", true)
	logger.Info("dropped")
	logger.Warn("kept", slog.String("insight", "sleep"))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	for _, want := range []string{`"msg":"kept"`, `"app":"nestling"`, `"insight":"sleep"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestStageFindsOutermostAppError(t *testing.T) {
	sentinel := errors.New("boom")
	inner := NewAppError("fetch sleep", "record fetch failed", sentinel)
	outer := fmt.Errorf("analyze: %w", NewAppError("sleep", "local analysis failed", inner))

	if got := Stage(outer); got != "sleep" {
		t.Fatalf("expected outer stage, got %q", got)
	}
	if got := Stage(inner); got != "fetch sleep" {
		t.Fatalf("expected inner stage, got %q", got)
	}
	if !errors.Is(outer, sentinel) {
		t.Fatalf("cause lost from chain")
	}
	if Stage(sentinel) != "" {
		t.Fatalf("plain errors have no stage")
	}
	if got := inner.Error(); got != "fetch sleep: record fetch failed: boom" {
		t.Fatalf("unexpected message %q", got)
	}
}
