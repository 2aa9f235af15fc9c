package sim

import (
	"log/slog"
)

// EventLogger is a hook that writes every hook invocation it receives to a
// structured logger at debug level.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger returns a new EventLogger which will write in to the logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventLogger{logger: logger}
}

// Func writes the hook information into the logger.
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos == nil {
		return
	}

	h.logger.Debug("hook",
		"pos", ctx.Pos.Name,
		"time", ctx.Now.String(),
		"item", ctx.Item,
	)
}
