// Structured logging tests
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerBasic(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetLevel(DEBUG)
	logger.SetColorize(false)

	logger.Info("hello %s", "world")

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "test:") {
		t.Errorf("expected prefix 'test:', got: %s", output)
	}
	if !strings.Contains(output, "hello world") {
		t.Errorf("expected message 'hello world', got: %s", output)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetColorize(false)
	logger.SetLevel(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG/INFO to be filtered, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected WARN to pass, got: %s", buf.String())
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected ERROR to pass, got: %s", buf.String())
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetFormat(FormatJSON)
	logger.SetLevel(DEBUG)

	logger.Info("json test")

	var entry JSONEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v, output: %s", err, buf.String())
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got: %s", entry.Level)
	}
	if entry.Logger != "test" {
		t.Errorf("expected logger 'test', got: %s", entry.Logger)
	}
	if entry.Message != "json test" {
		t.Errorf("expected message 'json test', got: %s", entry.Message)
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetColorize(false)
	logger.SetLevel(DEBUG)

	logger.WithFields(Fields{"device": "/dev/ttyUSB0", "baud": 115200}).Info("opened")

	output := buf.String()
	if !strings.Contains(output, "baud=115200") {
		t.Errorf("expected baud field, got: %s", output)
	}
	if !strings.Contains(output, "device=/dev/ttyUSB0") {
		t.Errorf("expected device field, got: %s", output)
	}
	// Fields are emitted in sorted key order.
	if strings.Index(output, "baud=") > strings.Index(output, "device=") {
		t.Errorf("expected sorted field order, got: %s", output)
	}
}

func TestEntryChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	base := logger.WithField("line", 42)
	base.WithField("inst", "G1 X10").Info("sent")

	output := buf.String()
	if !strings.Contains(output, "line=42") || !strings.Contains(output, "inst=G1 X10") {
		t.Errorf("expected both fields, got: %s", output)
	}

	// The original entry must not have been mutated by the chain.
	buf.Reset()
	base.Info("again")
	if strings.Contains(buf.String(), "inst=") {
		t.Errorf("entry chaining mutated parent entry: %s", buf.String())
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := New("main")
	logger.SetWriter(&buf)
	logger.SetColorize(false)
	logger.SetLevel(DEBUG)

	sub := logger.WithPrefix("serial")
	sub.Debug("sub message")

	if !strings.Contains(buf.String(), "serial:") {
		t.Errorf("expected sub-logger prefix, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	logger.WithError(errTest).Error("write failed")

	if !strings.Contains(buf.String(), "error=test failure") {
		t.Errorf("expected error field, got: %s", buf.String())
	}
}

var errTest = errTestType{}

type errTestType struct{}

func (errTestType) Error() string { return "test failure" }
