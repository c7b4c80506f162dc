// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "ths-trader", "logs", "trader.log"),
		MaxSize:    50,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// SetInfoLevel sets the global log level to info.
func SetInfoLevel() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// WithCode adds an instrument code to the logger context.
func WithCode(logger zerolog.Logger, code string) zerolog.Logger {
	return logger.With().Str("code", code).Logger()
}

// WithTaskID adds a task ID to the logger context.
func WithTaskID(logger zerolog.Logger, taskID string) zerolog.Logger {
	return logger.With().Str("task_id", taskID).Logger()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogSignal logs a generated trade signal.
func LogSignal(logger zerolog.Logger, code, action, priority string, confidence float64, reasons []string) {
	logger.Info().
		Str("event", "signal").
		Str("code", code).
		Str("action", action).
		Str("priority", priority).
		Float64("confidence", confidence).
		Strs("reasons", reasons).
		Msg("Signal generated")
}

// LogTrade logs an executed trade.
func LogTrade(logger zerolog.Logger, code, action string, qty int, price float64, dryRun bool) {
	logger.Info().
		Str("event", "trade").
		Str("code", code).
		Str("action", action).
		Int("quantity", qty).
		Float64("price", price).
		Bool("dry_run", dryRun).
		Msg("Trade executed")
}

// LogRiskReject logs a risk rejection with the failing rule.
func LogRiskReject(logger zerolog.Logger, code, action, rule, message string) {
	logger.Warn().
		Str("event", "risk_reject").
		Str("code", code).
		Str("action", action).
		Str("rule", rule).
		Str("message", message).
		Msg("Signal rejected")
}

// LogTask logs a task lifecycle transition.
func LogTask(logger zerolog.Logger, taskID, code, state string, duration time.Duration, err error) {
	event := logger.Info().
		Str("event", "task").
		Str("task_id", taskID).
		Str("code", code).
		Str("state", state).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Task finished with error")
	} else {
		event.Msg("Task state changed")
	}
}
