package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/studio-core/internal/device"
	"github.com/nerrad567/studio-core/internal/infrastructure/config"
)

// Logger must be usable wherever an adapter expects a device.Logger.
var _ device.Logger = (*Logger)(nil)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSON output %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   string
	}{
		{name: "json", format: "json", want: `"msg":"hello"`},
		{name: "default is json", format: "", want: `"msg":"hello"`},
		{name: "text", format: "text", want: "msg=hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newWithWriter(config.LoggingConfig{Level: "info", Format: tt.format}, "1.0.0", &buf)
			logger.Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug level", input: "debug", expected: slog.LevelDebug},
		{name: "info level", input: "info", expected: slog.LevelInfo},
		{name: "warn level", input: "warn", expected: slog.LevelWarn},
		{name: "warning level", input: "warning", expected: slog.LevelWarn},
		{name: "error level", input: "error", expected: slog.LevelError},
		{name: "unknown defaults to info", input: "unknown", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "case insensitive", input: "DEBUG", expected: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "warn"}, "test", &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Errorf("entries = %v, want only the warning", entries)
	}
}

func TestLogger_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{}, "v1.2.3", &buf)
	logger.Info("test message", "key", "value")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]

	if entry["service"] != ServiceName {
		t.Errorf("service = %v, want %q", entry["service"], ServiceName)
	}
	if entry["version"] != "v1.2.3" {
		t.Errorf("version = %v, want %q", entry["version"], "v1.2.3")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

func TestLogger_Device(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{}, "test", &buf)

	child := logger.Device("atem", "Switcher")
	if child == logger {
		t.Fatal("expected child logger to be different from parent")
	}
	child.Info("connected")

	entries := decodeLines(t, &buf)
	if entries[0]["device_type"] != "atem" || entries[0]["device"] != "Switcher" {
		t.Errorf("entry = %v, want device attributes", entries[0])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}
