package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/globalsound.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf).
		WithJobID("job-456").
		WithStage("translating").
		WithLanguage("es")

	logger.Info("hello")

	entry := decodeLine(t, &buf)
	if entry["job_id"] != "job-456" {
		t.Errorf("expected job_id field, got %v", entry["job_id"])
	}
	if entry["stage"] != "translating" {
		t.Errorf("expected stage field, got %v", entry["stage"])
	}
	if entry["language"] != "es" {
		t.Errorf("expected language field, got %v", entry["language"])
	}
	if entry["message"] != "hello" {
		t.Errorf("expected message hello, got %v", entry["message"])
	}
}

func TestLogStageDurationUsesErrorLevelOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.LogStageDuration("transcribing", 250*time.Millisecond, errors.New("backend down"))

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("expected error level, got %v", entry["level"])
	}
	if entry["error"] != "backend down" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
}

func TestLogTranslationFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.LogTranslationFallback("en", "es", 12, errors.New("out of memory"))

	entry := decodeLine(t, &buf)
	if entry["level"] != "warn" {
		t.Errorf("expected warn level, got %v", entry["level"])
	}
	if entry["segments"] != float64(12) {
		t.Errorf("expected segments=12, got %v", entry["segments"])
	}
}

func TestLogJobEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.LogJobEvent("job-123", "started", "processing", map[string]interface{}{
		"languages": 2,
	})

	entry := decodeLine(t, &buf)
	if entry["event"] != "started" || entry["status"] != "processing" {
		t.Errorf("unexpected job event entry: %v", entry)
	}
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	logger.Info("ignored")
	logger.WithJobID("x").Error("ignored")
}
