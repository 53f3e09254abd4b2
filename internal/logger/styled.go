package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/coxyhq/coxy/theme"
)

// StyledLogger is the logging interface threaded through the application.
// The pretty implementation decorates upstream names with theme colours;
// plain output is available for tests.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	InfoWithUpstream(msg string, upstream string, args ...any)
	WarnWithUpstream(msg string, upstream string, args ...any)
	ErrorWithUpstream(msg string, upstream string, args ...any)
	With(args ...any) StyledLogger
	WithRequestID(requestID string) StyledLogger
	GetUnderlying() *slog.Logger
}

type styledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, t *theme.Theme) StyledLogger {
	return &styledLogger{logger: logger, theme: t}
}

func (sl *styledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *styledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *styledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *styledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *styledLogger) InfoWithUpstream(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Upstream}.Sprint(upstream))
	sl.logger.Info(styledMsg, args...)
}

func (sl *styledLogger) WarnWithUpstream(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Upstream}.Sprint(upstream))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *styledLogger) ErrorWithUpstream(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Upstream}.Sprint(upstream))
	sl.logger.Error(styledMsg, args...)
}

func (sl *styledLogger) With(args ...any) StyledLogger {
	return &styledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

func (sl *styledLogger) WithRequestID(requestID string) StyledLogger {
	if requestID == "" {
		return sl
	}
	return sl.With("request_id", requestID)
}

func (sl *styledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}
