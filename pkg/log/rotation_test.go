// Log rotation tests
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriter(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	writer, err := NewRotatingWriter(logFile, 1, 3)
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	msg := "test log message\n"
	n, err := writer.Write([]byte(msg))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}

	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("log file not created: %v", err)
	}
	if writer.Size() != int64(len(msg)) {
		t.Errorf("expected size %d, got %d", len(msg), writer.Size())
	}
}

func TestRotatingWriterEmptyPath(t *testing.T) {
	if _, err := NewRotatingWriter("", 1, 1); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestIsRotatedName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"print.20260102-150405.log", true},
		{"print.20260102150405.log", false},
		{"print.log", false},
		{"print.backup.log", false},
		{"other.20260102-150405.log", false},
	}
	for _, tt := range tests {
		if got := isRotatedName(tt.name, "print", ".log"); got != tt.want {
			t.Errorf("isRotatedName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
