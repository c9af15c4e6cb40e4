package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBuild_JSONToStdout(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := build(Config{Level: "info"}, &buf)
	defer closer.Close()

	logger.Debug().Msg("hidden")
	logger.Info().Str("token", "T001").Msg("admitted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON: %v", err)
	}
	if entry["token"] != "T001" || entry["time"] == nil {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestBuild_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := build(Config{Console: true}, &buf)
	logger.Info().Msg("queue loaded")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "queue loaded") {
		t.Errorf("message missing from %q", buf.String())
	}
}

func TestBuild_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "smartslot.log")
	var buf bytes.Buffer
	logger, closer := build(Config{Level: "debug", File: path, MaxSizeMB: 1}, &buf)

	logger.Warn().Msg("snapshot save failed")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "snapshot save failed") {
		t.Errorf("expected message in file, got %q", data)
	}
	if !strings.Contains(buf.String(), "snapshot save failed") {
		t.Error("expected message on stdout too")
	}
}
