// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// InfoWithAddress styles the target address of a subchannel operation.
func (sl *StyledLogger) InfoWithAddress(msg string, address string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(address))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithAddress(msg string, address string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(address))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithAddress(msg string, address string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Secondary}.Sprint(address))
	sl.logger.Error(styledMsg, args...)
}

// InfoConnectivityChange logs a subchannel's state transition, colouring
// the destination state the way the teacher colours endpoint health.
func (sl *StyledLogger) InfoConnectivityChange(subchannelID string, from, to domain.ConnectivityState, reason string) {
	styledTo := pterm.Style{sl.theme.ConnectivityColor(to)}.Sprint(to.String())
	styledFrom := sl.theme.Muted.Sprint(from.String())
	msg := fmt.Sprintf("subchannel %s: %s -> %s (%s)",
		pterm.Style{sl.theme.Secondary}.Sprint(subchannelID), styledFrom, styledTo, reason)
	sl.logger.Info(msg)
}

// InfoWithBufferedBytes styles a byte count, e.g. the prober's capture size.
func (sl *StyledLogger) InfoWithBufferedBytes(msg string, n int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(n, " bytes"))
	sl.logger.Info(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed.
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// NewWithTheme creates both a regular logger and a styled logger.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
