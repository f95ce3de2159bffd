// Size-based log file rotation.
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.Writer that appends to a file and rotates it when
// it grows past a size limit. Rotated files carry a timestamp suffix; the
// oldest backups beyond the retention count are removed.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	size       int64
	file       *os.File
}

// NewRotatingWriter opens (or creates) the log file at path. maxSizeMB and
// maxBackups fall back to 10 MB and 5 files when non-positive.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	w := &RotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}

	ext := filepath.Ext(w.path)
	base := strings.TrimSuffix(w.path, ext)
	rotated := fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102-150405"), ext)
	if err := os.Rename(w.path, rotated); err != nil {
		w.open()
		return fmt.Errorf("rename log file: %w", err)
	}

	w.pruneBackups()
	return w.open()
}

// pruneBackups removes the oldest rotated files beyond the retention count.
func (w *RotatingWriter) pruneBackups() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if name != base && isRotatedName(name, prefix, ext) {
			backups = append(backups, filepath.Join(dir, name))
		}
	}

	// Timestamped names sort oldest first.
	sort.Strings(backups)
	for len(backups) > w.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// isRotatedName reports whether name matches prefix.YYYYMMDD-HHMMSS ext.
func isRotatedName(name, prefix, ext string) bool {
	name = strings.TrimSuffix(name, ext)
	stamp, ok := strings.CutPrefix(name, prefix+".")
	if !ok || len(stamp) != 15 || stamp[8] != '-' {
		return false
	}
	_, err1 := strconv.Atoi(stamp[:8])
	_, err2 := strconv.Atoi(stamp[9:])
	return err1 == nil && err2 == nil
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Size returns the current file size.
func (w *RotatingWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
