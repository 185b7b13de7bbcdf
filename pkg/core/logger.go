package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
)

// Logger provides leveled logging for the actors.
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that appends the given fields to every line
	WithFields(fields map[string]interface{}) Logger
}

// Level is the minimum severity a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// defaultLogger implements Logger using Go's standard log package
type defaultLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	level       Level
	fields      string
}

// NewDefaultLogger creates a logger that writes errors and warnings to
// stderr and everything else to stdout.
func NewDefaultLogger() Logger {
	return &defaultLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
		level:       LevelInfo,
	}
}

// NewLogger creates a logger that writes every level to w, dropping
// anything below level.
func NewLogger(w io.Writer, level Level) Logger {
	return &defaultLogger{
		errorLogger: log.New(w, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(w, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(w, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(w, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
		level:       level,
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return NewLogger(io.Discard, LevelError+1)
}

func (l *defaultLogger) output(target *log.Logger, lvl Level, msg string) {
	if lvl < l.level {
		return
	}
	if l.fields != "" {
		msg += " " + l.fields
	}
	// depth 3: output -> Error/Errorf/... -> caller
	target.Output(3, msg)
}

// Error logs an error message
func (l *defaultLogger) Error(args ...interface{}) {
	l.output(l.errorLogger, LevelError, fmt.Sprint(args...))
}

// Errorf logs a formatted error message
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.output(l.errorLogger, LevelError, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *defaultLogger) Warn(args ...interface{}) {
	l.output(l.warnLogger, LevelWarn, fmt.Sprint(args...))
}

// Warnf logs a formatted warning message
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.output(l.warnLogger, LevelWarn, fmt.Sprintf(format, args...))
}

// Info logs an informational message
func (l *defaultLogger) Info(args ...interface{}) {
	l.output(l.infoLogger, LevelInfo, fmt.Sprint(args...))
}

// Infof logs a formatted informational message
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.output(l.infoLogger, LevelInfo, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *defaultLogger) Debug(args ...interface{}) {
	l.output(l.debugLogger, LevelDebug, fmt.Sprint(args...))
}

// Debugf logs a formatted debug message
func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.output(l.debugLogger, LevelDebug, fmt.Sprintf(format, args...))
}

// WithFields implements Logger. Fields are rendered as sorted key=value pairs.
func (l *defaultLogger) WithFields(fields map[string]interface{}) Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	if l.fields != "" {
		parts = append(parts, l.fields)
	}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}

	clone := *l
	clone.fields = strings.Join(parts, " ")
	return &clone
}
