package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  WARN,
		Output: &buf,
		Format: FormatText,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("messages below WARN should be suppressed")
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Error("WARN and ERROR messages should be written")
	}
}

func TestStructuredLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
		Format: FormatJSON,
	})

	logger.WithComponent("cache").Info("tier degraded", map[string]interface{}{
		"tier": "L2",
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Message != "tier degraded" {
		t.Errorf("unexpected message %q", entry.Message)
	}
	if entry.Fields["component"] != "cache" {
		t.Errorf("expected component field, got %v", entry.Fields)
	}
	if entry.Fields["tier"] != "L2" {
		t.Errorf("expected tier field, got %v", entry.Fields)
	}
}

func TestStructuredLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	base := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
		Format: FormatText,
	})

	derived := base.WithField("namespace", "items")
	derived.Info("entry evicted")

	if !strings.Contains(buf.String(), "namespace=items") {
		t.Errorf("derived logger should carry context field, got %q", buf.String())
	}

	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "namespace") {
		t.Error("base logger should not inherit derived fields")
	}
}

func TestStructuredLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  ERROR,
		Output: &buf,
	})

	logger.Info("hidden")
	logger.SetLevel(DEBUG)
	logger.Info("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("message below level should be suppressed")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("message at level should be written after SetLevel")
	}
}
