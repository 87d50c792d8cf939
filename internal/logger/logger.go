// Package logger is the process-wide structured logger. Commands print
// their JSON results on stdout, so all logging goes to stderr; quiet mode
// raises the threshold to errors only.
package logger

import (
	"log/slog"
	"os"
)

var level = new(slog.LevelVar)

// Logger is the shared logger instance. Tests swap it for one writing to
// a buffer.
var Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

// SetLevel sets the minimum level that is emitted.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetQuiet suppresses everything below the error level. Used when the
// quiet config flag is set so watch output is not interleaved with logs.
func SetQuiet() {
	level.Set(slog.LevelError)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Debug logs a debug message. Hidden unless the level is lowered.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
