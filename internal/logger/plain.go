package logger

import (
	"io"
	"log/slog"

	"github.com/coxyhq/coxy/theme"
)

// NewPlainStyledLogger wraps an existing slog.Logger without any terminal
// styling. Handy for tests and non-interactive use.
func NewPlainStyledLogger(logger *slog.Logger) StyledLogger {
	return &plainStyledLogger{styledLogger{logger: logger, theme: theme.Default()}}
}

// NewDiscardLogger drops everything. Test helper.
func NewDiscardLogger() StyledLogger {
	return NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type plainStyledLogger struct {
	styledLogger
}

func (sl *plainStyledLogger) InfoWithUpstream(msg string, upstream string, args ...any) {
	sl.logger.Info(msg+" "+upstream, args...)
}

func (sl *plainStyledLogger) WarnWithUpstream(msg string, upstream string, args ...any) {
	sl.logger.Warn(msg+" "+upstream, args...)
}

func (sl *plainStyledLogger) ErrorWithUpstream(msg string, upstream string, args ...any) {
	sl.logger.Error(msg+" "+upstream, args...)
}

func (sl *plainStyledLogger) With(args ...any) StyledLogger {
	return &plainStyledLogger{styledLogger{logger: sl.logger.With(args...), theme: sl.theme}}
}

func (sl *plainStyledLogger) WithRequestID(requestID string) StyledLogger {
	if requestID == "" {
		return sl
	}
	return sl.With("request_id", requestID)
}
