package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"example.com/conduit/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// Logger is the server-wide structured logger. It wraps zerolog and emits
// one JSON object per line.
type Logger struct {
	zl     zerolog.Logger
	output io.WriteCloser // non-nil only for file targets, closed by Close
}

// New creates a Logger from the logging configuration. The target may be
// "stdout", "stderr" or an absolute file path (opened in append mode).
func New(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	var out io.Writer = os.Stderr
	var file io.WriteCloser
	switch {
	case cfg.Target == "stdout":
		out = os.Stdout
	case cfg.Target == "stderr", cfg.Target == "":
		out = os.Stderr
	case config.IsFilePath(cfg.Target):
		f, err := os.OpenFile(cfg.Target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Target, err)
		}
		out = f
		file = f
	}

	zl := zerolog.New(out).Level(zerologLevel(cfg.LogLevel)).With().Timestamp().Logger()
	return &Logger{zl: zl, output: file}, nil
}

// NewTestLogger returns a debug-level logger writing to w, for use in tests.
func NewTestLogger(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func zerologLevel(lvl config.LogLevel) zerolog.Level {
	switch lvl {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelInfo:
		return zerolog.InfoLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, fields LogFields) { l.emit(l.zl.Debug(), msg, fields) }

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, fields LogFields) { l.emit(l.zl.Info(), msg, fields) }

// Warn logs a message at WARNING level.
func (l *Logger) Warn(msg string, fields LogFields) { l.emit(l.zl.Warn(), msg, fields) }

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, fields LogFields) { l.emit(l.zl.Error(), msg, fields) }

// Close closes a file-backed log target. It is a no-op for stdio targets.
func (l *Logger) Close() error {
	if l.output != nil {
		return l.output.Close()
	}
	return nil
}
