package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := Text(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	got := FromContext(ctx)
	got.Info("hello", "layer", "conv1")
	if !strings.Contains(buf.String(), "layer=conv1") {
		t.Fatalf("logger from context did not write: %q", buf.String())
	}
}

func TestFromContextFallsBack(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) == nil {
		t.Fatalf("FromContext returned nil")
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := Pretty(&buf, slog.LevelDebug)
	l.With("run", "abc").Info("stage done", "accuracy", 0.91, "note", "two words")

	out := buf.String()
	for _, want := range []string{"stage done", "run=abc", "accuracy=0.91", `note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("pretty output missing %q: %q", want, out)
		}
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := Pretty(&buf, slog.LevelWarn)
	l.Debug("quiet")
	l.Info("quiet too")
	if buf.Len() != 0 {
		t.Fatalf("records below level were written: %q", buf.String())
	}
	l.Error("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("error record missing: %q", buf.String())
	}
}
