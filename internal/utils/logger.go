package utils

import (
	"io"

	"golang.org/x/exp/slog"
)

// LoggerOrDiscard returns logger, or a logger that drops every record if logger is nil
func LoggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
