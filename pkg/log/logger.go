// Structured logging for SerialPrint
//
// Leveled logger with structured fields, text and JSON output, ANSI level
// colors, and per-component prefixes. Configured from SERIALPRINT_LOG_*
// environment variables.
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name; unknown names fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Format selects the output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Fields is a map of structured logging fields.
type Fields map[string]any

// Logger writes leveled, optionally structured log lines.
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      Level
	timeFormat string
	colorize   bool
	format     Format
}

// Entry carries structured fields toward a single log call.
type Entry struct {
	logger *Logger
	fields Fields
}

var ansiColors = map[Level]string{
	DEBUG: "\x1b[36m",
	INFO:  "\x1b[32m",
	WARN:  "\x1b[33m",
	ERROR: "\x1b[31m",
}

const ansiReset = "\x1b[0m"

// New creates a logger writing text to stderr at INFO level.
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
		format:     FormatText,
	}
}

// SetLevel sets the minimum level that will be written.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter redirects output, e.g. to a log file or a test buffer.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// SetColorize enables or disables ANSI level colors.
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorize = enable
}

// SetFormat switches between text and JSON output.
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
}

// WithPrefix returns a logger for a sub-component sharing this logger's
// writer and settings.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		prefix:     prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
		colorize:   l.colorize,
		format:     l.format,
	}
}

// WithField returns an Entry carrying one field.
func (l *Logger) WithField(key string, value any) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry carrying the given fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry carrying the error under the "error" key.
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string, args ...any) { l.output(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...any)  { l.output(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...any)  { l.output(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...any) { l.output(ERROR, msg, args, nil) }

// output is the single write path for both plain and field-carrying calls.
func (l *Logger) output(level Level, msg string, args []any, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var line string
	if l.format == FormatJSON {
		line = l.formatJSON(level, msg, fields)
	} else {
		line = l.formatText(level, msg, fields)
	}
	fmt.Fprint(l.writer, line)
}

func (l *Logger) formatText(level Level, msg string, fields Fields) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format(l.timeFormat))
	sb.WriteString(" [")
	sb.WriteString(fmt.Sprintf("%-5s", level.String()))
	sb.WriteString("] ")
	if l.colorize {
		sb.WriteString(ansiColors[level])
	}
	sb.WriteString(l.prefix)
	if l.colorize {
		sb.WriteString(ansiReset)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)
	if len(fields) > 0 {
		sb.WriteString(" {")
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", fields[k]))
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

// JSONEntry is the wire structure for JSON-formatted log lines.
type JSONEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Logger    string         `json:"logger"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (l *Logger) formatJSON(level Level, msg string, fields Fields) string {
	entry := JSONEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    l.prefix,
		Message:   msg,
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"error":"marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

// WithField adds a field, returning a new Entry.
func (e *Entry) WithField(key string, value any) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// WithError adds the error under the "error" key, returning a new Entry.
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string, args ...any) { e.logger.output(DEBUG, msg, args, e.fields) }
func (e *Entry) Info(msg string, args ...any)  { e.logger.output(INFO, msg, args, e.fields) }
func (e *Entry) Warn(msg string, args ...any)  { e.logger.output(WARN, msg, args, e.fields) }
func (e *Entry) Error(msg string, args ...any) { e.logger.output(ERROR, msg, args, e.fields) }

var (
	defaultMu     sync.Mutex
	defaultLogger = New("serialprint")
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// ConfigureFromEnv applies environment-based configuration:
//   - SERIALPRINT_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - SERIALPRINT_LOG_FORMAT: text, json
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if s := os.Getenv("SERIALPRINT_LOG_LEVEL"); s != "" {
		l.SetLevel(ParseLevel(s))
	}
	if s := os.Getenv("SERIALPRINT_LOG_FORMAT"); s != "" {
		switch strings.ToLower(s) {
		case "json":
			l.SetFormat(FormatJSON)
		case "text":
			l.SetFormat(FormatText)
		}
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
