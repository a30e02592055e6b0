package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferedLogger(t *testing.T, level LogLevel) (*ZapLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewZapLogger(Config{Level: level, Format: JSONFormat, Output: buf})
	if err != nil {
		t.Fatalf("NewZapLogger: %v", err)
	}
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "json format with debug level", config: Config{Level: DebugLevel, Format: JSONFormat}},
		{name: "text format with info level", config: Config{Level: InfoLevel, Format: TextFormat}},
		{name: "default to info level for invalid level", config: Config{Level: "invalid", Format: JSONFormat}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Output = &bytes.Buffer{}
			l, err := NewZapLogger(tt.config)
			if err != nil {
				t.Fatalf("NewZapLogger() error = %v", err)
			}
			if l == nil {
				t.Fatal("NewZapLogger() returned nil logger")
			}
			_ = l.Sync()
		})
	}
}

func TestZapLogger_LogLevels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel LogLevel
		logFunc  func(Logger)
		expected bool
	}{
		{name: "debug level logs debug", logLevel: DebugLevel, logFunc: func(l Logger) { l.Debug("m") }, expected: true},
		{name: "info level does not log debug", logLevel: InfoLevel, logFunc: func(l Logger) { l.Debug("m") }, expected: false},
		{name: "warn level logs warn", logLevel: WarnLevel, logFunc: func(l Logger) { l.Warn("m") }, expected: true},
		{name: "error level does not log warn", logLevel: ErrorLevel, logFunc: func(l Logger) { l.Warn("m") }, expected: false},
		{name: "error level logs error", logLevel: ErrorLevel, logFunc: func(l Logger) { l.Error("m") }, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferedLogger(t, tt.logLevel)
			tt.logFunc(l)
			_ = l.Sync()
			if got := buf.Len() > 0; got != tt.expected {
				t.Fatalf("expected output=%v, got %q", tt.expected, buf.String())
			}
		})
	}
}

func TestZapLogger_WithAndContext(t *testing.T) {
	l, buf := newBufferedLogger(t, InfoLevel)

	l.With("backend", "resource_local").Info("child")
	ctx := ContextWithUnitOfWork(context.Background(), "uow-1")
	l.WithContext(ctx).Info("scoped")
	l.WithContext(context.Background()).Info("plain")

	entries := decodeLines(t, buf)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0]["backend"] != "resource_local" {
		t.Fatalf("missing child field: %v", entries[0])
	}
	if entries[1]["unit_of_work_id"] != "uow-1" {
		t.Fatalf("missing unit of work id: %v", entries[1])
	}
	if _, ok := entries[2]["unit_of_work_id"]; ok {
		t.Fatalf("unexpected unit of work id: %v", entries[2])
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded", "k", "v")
	if l.WithContext(context.Background()) != Logger(l) {
		t.Fatal("expected logger without unit of work to return itself")
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": DebugLevel, "warning": WarnLevel, "error": ErrorLevel} {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLogLevel(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if f, err := ParseLogFormat("console"); err != nil || f != TextFormat {
		t.Fatalf("ParseLogFormat(console) = %q, %v", f, err)
	}
}
