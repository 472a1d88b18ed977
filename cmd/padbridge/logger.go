package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

const (
	logFormatAuto = "auto"
	logFormatText = "text"
	logFormatJSON = "json"
)

// parseLogLevel converts a string to a LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates the process logger from the logging section.
//
// Output goes to cfg.File through lumberjack when set, stdout otherwise.
// Format "auto" picks text on a terminal and JSON everywhere else.
// The returned closer flushes the log file; it is a no-op for stdout.
func setupLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
		tty              = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   ExpandPath(cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out, closer, tty = lj, lj, false
	}

	return newLogger(out, level, cfg.Format, tty), closer, nil
}

func newLogger(w io.Writer, level LogLevel, format string, tty bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}

	useJSON := format == logFormatJSON || ((format == logFormatAuto || format == "") && !tty)
	if useJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
