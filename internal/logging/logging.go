// Package logging writes the durable operation log. Every orchestrator
// operation emits one JSON entry with the operation name, timestamp and
// outcome under the log root, which the external log-rotation collaborator
// consumes.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Logger wraps slog with vkm's operation-outcome conventions.
type Logger struct {
	*slog.Logger
	file io.Closer
}

// Open creates a Logger appending to a daily log file under logDir.
// Timestamps are UTC RFC3339Nano.
func Open(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("vkm_%s.log", time.Now().UTC().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{Logger: newSlog(f), file: f}, nil
}

// NewWriter creates a Logger writing to w. Used in tests.
func NewWriter(w io.Writer) *Logger {
	return &Logger{Logger: newSlog(w)}
}

func newSlog(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   a.Key,
					Value: slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano)),
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Outcome records the completion of one operation. Failed operations carry
// the error detail; successful ones record their duration.
func (l *Logger) Outcome(op string, start time.Time, err error, args ...any) {
	attrs := append([]any{
		slog.String("op", op),
		slog.Duration("elapsed", time.Since(start)),
	}, args...)

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Error("operation failed", attrs...)
		return
	}
	l.Info("operation completed", attrs...)
}
