package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels accepted by NewLogger, case-insensitively.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the file created inside the log directory.
const LogFileName = "nettrace.log"

// sink is the writer shared by a logger and all of its children.
type sink struct {
	once   sync.Once
	closer io.Closer
	err    error
}

func (s *sink) close() error {
	s.once.Do(func() {
		if s.closer != nil {
			s.err = s.closer.Close()
		}
	})
	return s.err
}

// Logger writes JSON log lines. Child loggers carry extra attributes and
// share the parent's output. It is safe for concurrent use.
type Logger struct {
	slog *slog.Logger
	sink *sink
}

// NewLogger logs to {logDir}/nettrace.log with the default rotation
// settings, or to stderr when logDir is empty. Unknown levels mean INFO.
func NewLogger(logDir string, level string) (*Logger, error) {
	return NewLoggerWithRotation(logDir, level, DefaultRotationConfig())
}

// NewLoggerWithRotation is NewLogger with explicit rotation settings.
func NewLoggerWithRotation(logDir string, level string, rotation RotationConfig) (*Logger, error) {
	if logDir == "" {
		return NewWriterLogger(os.Stderr, nil, level), nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rw := newRotatingWriter(filepath.Join(logDir, LogFileName), rotation)
	// lumberjack opens lazily; an empty write creates the file.
	if _, err := rw.Write(nil); err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewWriterLogger(rw, rw, level), nil
}

// NewWriterLogger logs JSON to w. closer, when non-nil, is closed once by
// the first Close on this logger or any of its children.
func NewWriterLogger(w io.Writer, closer io.Closer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	return &Logger{
		slog: slog.New(handler),
		sink: &sink{closer: closer},
	}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, nil, LevelError)
}

func slogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "WARNING":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession tags every entry with the capture session ID.
func (l *Logger) WithSession(id string) *Logger {
	return l.With("session_id", id)
}

// WithConnection tags every entry with the peer's target name.
func (l *Logger) WithConnection(name string) *Logger {
	return l.With("connection", name)
}

// WithChannel tags every entry with a tracker channel name.
func (l *Logger) WithChannel(name string) *Logger {
	return l.With("channel", name)
}

// With returns a child logger carrying alternating key-value attributes.
// Pairs whose key is not a string are dropped.
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			attrs = append(attrs, slog.Any(key, args[i+1]))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{slog: l.slog.With(attrs...), sink: l.sink}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close closes the log file. It is a no-op for stderr loggers and for every
// call after the first.
func (l *Logger) Close() error {
	if err := l.sink.close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
