package actuator

import (
	"context"
	"log/slog"

	"padbridge/internal/sample"
)

// Log is a Port that only logs. Used for dry runs and when no device is
// configured.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog returns a logging actuator writing at level.
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: level}
}

func (l *Log) Apply(ctx context.Context, cmd sample.Command) error {
	l.logger.Log(ctx, l.level, "actuate", "op", OpApply, "command", cmd.String())
	return nil
}

func (l *Log) Neutral(ctx context.Context) error {
	l.logger.Log(ctx, l.level, "actuate", "op", OpNeutral)
	return nil
}
