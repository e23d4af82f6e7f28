// Structured logging for the HeliCal rig controller
//
// Provides log levels, structured key-value fields, text and JSON output,
// ANSI colors on terminals, and per-component child loggers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel orders message severities.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
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

// ParseLevel parses a level name, case-insensitively. Unknown names
// map to INFO.
func ParseLevel(s string) LogLevel {
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

// OutputFormat selects the rendering of log lines.
type OutputFormat int

const (
	// FormatText is the human-readable default.
	FormatText OutputFormat = iota
	// FormatJSON renders one JSON object per line.
	FormatJSON
)

// Fields is a map of structured logging fields.
type Fields map[string]interface{}

// Logger writes leveled, optionally structured log messages.
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	outFormat  OutputFormat
	caller     bool
}

// Entry is a pending log statement carrying structured fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultLogger *Logger

	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m", // Cyan
		INFO:  "\x1b[32m", // Green
		WARN:  "\x1b[33m", // Yellow
		ERROR: "\x1b[31m", // Red
	}
	ansiReset = "\x1b[0m"
)

// New creates a new logger with the given component prefix.
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
		outFormat:  FormatText,
	}
}

func (l *Logger) set(fn func()) {
	l.mu.Lock()
	fn()
	l.mu.Unlock()
}

// SetLevel sets the minimum level emitted.
func (l *Logger) SetLevel(level LogLevel) {
	l.set(func() { l.level = level })
}

// GetLevel returns the minimum level emitted.
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter redirects output.
func (l *Logger) SetWriter(w io.Writer) {
	l.set(func() { l.writer = w })
}

// SetColorize toggles ANSI level colors.
func (l *Logger) SetColorize(enable bool) {
	l.set(func() { l.colorize = enable })
}

// SetFormat selects FormatText or FormatJSON.
func (l *Logger) SetFormat(format OutputFormat) {
	l.set(func() { l.outFormat = format })
}

// SetCaller toggles file:line annotations.
func (l *Logger) SetCaller(enable bool) {
	l.set(func() { l.caller = enable })
}

// WithPrefix returns a child logger with a different component prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		prefix:     prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
		colorize:   l.colorize,
		outFormat:  l.outFormat,
		caller:     l.caller,
	}
}

// WithField starts an Entry with one field.
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields starts an Entry with the given fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError starts an Entry with the error field set.
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) formatText(level LogLevel, msg string, fields Fields, callerSkip int) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format(l.timeFormat))
	fmt.Fprintf(&sb, " [%-5s] ", level)
	if l.colorize {
		sb.WriteString(ansiColors[level])
		sb.WriteString(l.prefix)
		sb.WriteString(ansiReset)
	} else {
		sb.WriteString(l.prefix)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)
	if l.caller {
		sb.WriteString(" (")
		sb.WriteString(getCaller(callerSkip))
		sb.WriteString(")")
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

type jsonEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) formatJSON(level LogLevel, msg string, fields Fields, callerSkip int) string {
	entry := jsonEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    l.prefix,
		Message:   msg,
		Fields:    fields,
	}
	if l.caller {
		entry.Caller = getCaller(callerSkip)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

func (l *Logger) logInternal(level LogLevel, msg string, args []interface{}, fields Fields, callerSkip int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	var output string
	if l.outFormat == FormatJSON {
		output = l.formatJSON(level, msg, fields, callerSkip+1)
	} else {
		output = l.formatText(level, msg, fields, callerSkip+1)
	}
	fmt.Fprint(l.writer, output)
}

// Debug logs at DEBUG level, printf-style when args are given.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.logInternal(DEBUG, msg, args, nil, 4)
}

// Info logs at INFO level, printf-style when args are given.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.logInternal(INFO, msg, args, nil, 4)
}

// Warn logs at WARN level, printf-style when args are given.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.logInternal(WARN, msg, args, nil, 4)
}

// Error logs at ERROR level, printf-style when args are given.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.logInternal(ERROR, msg, args, nil, 4)
}

// WithField returns a copy of the entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// WithError returns a copy of the entry with the error field set.
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

// Debug emits the entry at DEBUG level.
func (e *Entry) Debug(msg string) {
	e.logger.logInternal(DEBUG, msg, nil, e.fields, 4)
}

// Info emits the entry at INFO level.
func (e *Entry) Info(msg string) {
	e.logger.logInternal(INFO, msg, nil, e.fields, 4)
}

// Warn emits the entry at WARN level.
func (e *Entry) Warn(msg string) {
	e.logger.logInternal(WARN, msg, nil, e.fields, 4)
}

// Error emits the entry at ERROR level.
func (e *Entry) Error(msg string) {
	e.logger.logInternal(ERROR, msg, nil, e.fields, 4)
}

// Debugf emits the entry at DEBUG level with a formatted message.
func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.logInternal(DEBUG, fmt.Sprintf(format, args...), nil, e.fields, 4)
}

// Infof emits the entry at INFO level with a formatted message.
func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.logInternal(INFO, fmt.Sprintf(format, args...), nil, e.fields, 4)
}

// Warnf emits the entry at WARN level with a formatted message.
func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.logInternal(WARN, fmt.Sprintf(format, args...), nil, e.fields, 4)
}

// Errorf emits the entry at ERROR level with a formatted message.
func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.logInternal(ERROR, fmt.Sprintf(format, args...), nil, e.fields, 4)
}

// SetDefaultLogger sets the global default logger.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetLogger returns a child of the default logger for the given
// component.
func GetLogger(prefix string) *Logger {
	if defaultLogger == nil {
		defaultLogger = New("helical")
	}
	return defaultLogger.WithPrefix(prefix)
}

// Debug logs at DEBUG level using the default logger.
func Debug(msg string, args ...interface{}) {
	GetLogger("").Debug(msg, args...)
}

// Info logs at INFO level using the default logger.
func Info(msg string, args ...interface{}) {
	GetLogger("").Info(msg, args...)
}

// Warn logs at WARN level using the default logger.
func Warn(msg string, args ...interface{}) {
	GetLogger("").Warn(msg, args...)
}

// Error logs at ERROR level using the default logger.
func Error(msg string, args ...interface{}) {
	GetLogger("").Error(msg, args...)
}

func init() {
	defaultLogger = New("helical")
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies environment-based configuration:
//   - HELICAL_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - HELICAL_LOG_FORMAT: text, json
//   - HELICAL_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if levelStr := os.Getenv("HELICAL_LOG_LEVEL"); levelStr != "" {
		l.SetLevel(ParseLevel(levelStr))
	}
	switch strings.ToLower(os.Getenv("HELICAL_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("HELICAL_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
