package log

import (
	"context"

	"github.com/tsu-platform/notify/internal/nilcheck"
)

// SafeError logs err at error level, tolerating nil loggers and nil errors.
func SafeError(logger Logger, ctx context.Context, msg string, err error) {
	if nilcheck.Interface(logger) || err == nil {
		return
	}

	logger.Log(ctx, LevelError, msg, Err(err))
}

// OrNop returns logger, or a no-op logger when logger is nil.
//
//nolint:ireturn
func OrNop(logger Logger) Logger {
	if nilcheck.Interface(logger) {
		return NewNop()
	}

	return logger
}
