package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	log := New(Config{Level: "debug", Dir: dir, NoColor: true})
	log.Info("tunnel connected", "tunnel", "web")

	b, err := os.ReadFile(filepath.Join(dir, "drill.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(b)
	if !strings.Contains(line, "tunnel connected") || !strings.Contains(line, "tunnel=web") {
		t.Fatalf("log line = %q", line)
	}
}

func TestNewExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "drill.log")
	log := New(Config{File: path, NoColor: true})
	log.Warn("probe failed", "tunnel", "db")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "probe failed") {
		t.Fatalf("log line = %q", string(b))
	}
}

func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	log := New(Config{Level: "warn", Dir: dir, NoColor: true})
	log.Info("suppressed")
	log.Warn("kept")

	b, err := os.ReadFile(filepath.Join(dir, "drill.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "suppressed") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h)

	log.Error("tunnel terminated unexpectedly")
	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR\033[0m") {
		t.Fatalf("error line not colored red: %q", out)
	}

	buf.Reset()
	log.Warn("ssh diagnostic")
	if out := buf.String(); !strings.Contains(out, "\033[33mWARN\033[0m") {
		t.Fatalf("warn line not colored yellow: %q", out)
	}

	buf.Reset()
	log.Debug("ssh stderr")
	if out := buf.String(); !strings.Contains(out, "\033[36mDEBUG\033[0m") {
		t.Fatalf("debug line not colored cyan: %q", out)
	}
}

func TestValOr(t *testing.T) {
	if got := valOr(0, 10); got != 10 {
		t.Fatalf("valOr(0, 10) = %d", got)
	}
	if got := valOr(-1, 10); got != 10 {
		t.Fatalf("valOr(-1, 10) = %d", got)
	}
	if got := valOr(5, 10); got != 5 {
		t.Fatalf("valOr(5, 10) = %d", got)
	}
}
