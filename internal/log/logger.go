// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

// currentLevel holds the current global log level atomically. Stage
// goroutines read it on every call, so it must never be guarded by a lock.
var currentLevel atomic.Uint32

// logger is the standard logger instance used internally.
var logger = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// Configure sets the global level from a config string such as "debug".
// Unknown strings leave the level at info and return an error.
func Configure(levelStr string) error {
	level, ok := ParseLevel(levelStr)
	SetLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", levelStr)
	}
	return nil
}

// SetOutput redirects all log output. Tests use it to capture stage logs.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

func emit(level LogLevel, prefix, msg string) {
	if !shouldLog(level) {
		return
	}
	pad := " "
	if level == LevelInfo || level == LevelWarn {
		pad = "  "
	}
	logger.Printf("[%s]%s%s%s", level, pad, prefix, msg)
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) { emit(LevelDebug, "", fmt.Sprintf(format, v...)) }

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) { emit(LevelInfo, "", fmt.Sprintf(format, v...)) }

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) { emit(LevelWarn, "", fmt.Sprintf(format, v...)) }

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) { emit(LevelError, "", fmt.Sprintf(format, v...)) }

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	logger.Fatalf("[%s] %s", LevelFatal, fmt.Sprintf(format, v...))
}

// --- Component loggers ---

// Logger prefixes every line with a component name, e.g. "[INFO]  rx: ...".
// It shares the global level and output.
type Logger struct {
	prefix string
}

// Named returns a Logger for the given component.
func Named(component string) *Logger {
	return &Logger{prefix: component + ": "}
}

func (l *Logger) Debugf(format string, v ...any) { emit(LevelDebug, l.prefix, fmt.Sprintf(format, v...)) }
func (l *Logger) Infof(format string, v ...any)  { emit(LevelInfo, l.prefix, fmt.Sprintf(format, v...)) }
func (l *Logger) Warnf(format string, v ...any)  { emit(LevelWarn, l.prefix, fmt.Sprintf(format, v...)) }
func (l *Logger) Errorf(format string, v ...any) { emit(LevelError, l.prefix, fmt.Sprintf(format, v...)) }
