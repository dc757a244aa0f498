// Package logging provides the leveled, named logger used across the FOIA Coach services
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents different levels of logging
type LogLevel int

const (
	// LevelDebug is for detailed debugging information
	LevelDebug LogLevel = iota
	// LevelInfo is for general operational information
	LevelInfo
	// LevelWarn is for warning events that might need attention
	LevelWarn
	// LevelError is for error events that still allow the process to continue
	LevelError
	// LevelFatal is for errors that abort the process
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// String returns the upper-case level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// sink is shared by a logger and every logger derived from it, so SetOutput
// and SetMinLevel on the root affect the whole tree.
type sink struct {
	mu        sync.Mutex
	stdLogger *log.Logger
	minLevel  LogLevel
	exit      func(int)
}

// Logger writes "[LEVEL] name: message key=value" lines.
type Logger struct {
	name   string
	level  *LogLevel
	fields []interface{}
	out    *sink
}

// New creates a new logger with the given name and minimum log level
func New(name string, minLevel LogLevel) *Logger {
	return &Logger{
		name: name,
		out: &sink{
			stdLogger: log.New(os.Stdout, "", log.LstdFlags),
			minLevel:  minLevel,
			exit:      os.Exit,
		},
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := New("discard", LevelFatal+1)
	l.SetOutput(io.Discard)
	return l
}

// WithName returns a logger with a different name that shares output and level
func (l *Logger) WithName(name string) *Logger {
	return &Logger{name: name, level: l.level, fields: l.fields, out: l.out}
}

// WithLevel returns a logger that filters at level independently of its parent
func (l *Logger) WithLevel(level LogLevel) *Logger {
	lv := level
	return &Logger{name: l.name, level: &lv, fields: l.fields, out: l.out}
}

// With returns a logger that appends the given key-value pairs to every KV line
func (l *Logger) With(keyValues ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keyValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keyValues...)
	return &Logger{name: l.name, level: l.level, fields: fields, out: l.out}
}

// SetOutput sets the output destination for the logger
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.stdLogger.SetOutput(w)
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level LogLevel) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.minLevel = level
}

// Enabled reports whether a message at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	if l.level != nil {
		return level >= *l.level
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return level >= l.out.minLevel
}

// Debug logs a message at debug level using printf-style formatting
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(LevelDebug, format, v...)
}

// DebugKV logs a message at debug level with key-value pairs
func (l *Logger) DebugKV(msg string, keyValues ...interface{}) {
	l.logKV(LevelDebug, msg, keyValues...)
}

// Info logs a message at info level using printf-style formatting
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(LevelInfo, format, v...)
}

// InfoKV logs a message at info level with key-value pairs
func (l *Logger) InfoKV(msg string, keyValues ...interface{}) {
	l.logKV(LevelInfo, msg, keyValues...)
}

// Warn logs a message at warning level using printf-style formatting
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(LevelWarn, format, v...)
}

// WarnKV logs a message at warning level with key-value pairs
func (l *Logger) WarnKV(msg string, keyValues ...interface{}) {
	l.logKV(LevelWarn, msg, keyValues...)
}

// Error logs a message at error level using printf-style formatting
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(LevelError, format, v...)
}

// ErrorKV logs a message at error level with key-value pairs
func (l *Logger) ErrorKV(msg string, keyValues ...interface{}) {
	l.logKV(LevelError, msg, keyValues...)
}

// Fatal logs a message at fatal level and then exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.log(LevelFatal, format, v...)
	l.out.exit(1)
}

// FatalKV logs a message at fatal level with key-value pairs and then exits
func (l *Logger) FatalKV(msg string, keyValues ...interface{}) {
	l.logKV(LevelFatal, msg, keyValues...)
	l.out.exit(1)
}

// Printf lets the logger stand in for gorm's and gin's printf-style writers
func (l *Logger) Printf(format string, v ...interface{}) {
	l.Info(format, v...)
}

// Write lets the logger be used as an io.Writer (gin access logs). Each
// write becomes one INFO line with trailing newlines trimmed.
func (l *Logger) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		l.log(LevelInfo, "%s", msg)
	}
	return len(p), nil
}

func (l *Logger) log(level LogLevel, format string, v ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if len(l.fields) > 0 {
		msg = msg + " " + formatKV(l.fields)
	}
	l.emit(level, msg)
}

func (l *Logger) logKV(level LogLevel, msg string, keyValues ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	all := make([]interface{}, 0, len(l.fields)+len(keyValues))
	all = append(all, l.fields...)
	all = append(all, keyValues...)
	if kv := formatKV(all); kv != "" {
		msg = msg + " " + kv
	}
	l.emit(level, msg)
}

func (l *Logger) emit(level LogLevel, msg string) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.stdLogger.Printf("[%s] %s: %s", level, l.name, msg)
}

func formatKV(keyValues []interface{}) string {
	if len(keyValues)%2 != 0 {
		keyValues = append(keyValues, "<missing value>")
	}
	pairs := make([]string, 0, len(keyValues)/2)
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyValues[i])
		}
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, keyValues[i+1]))
	}
	return strings.Join(pairs, " ")
}

// ParseLevel converts a string level to a LogLevel, defaulting to INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// StdLogger returns the underlying standard library logger
func (l *Logger) StdLogger() *log.Logger {
	return l.out.stdLogger
}
