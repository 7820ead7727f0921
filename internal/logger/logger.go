// Package logger builds the zap logger shared by the commands.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a level name to zap, defaulting to info.
func ParseLevel(level Level) zapcore.Level {
	switch Level(strings.ToLower(string(level))) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a production logger with ISO8601 timestamps writing to stderr
// and, when logPath is set, appending to that file.
func New(level Level, logPath string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		config.OutputPaths = append(config.OutputPaths, logPath)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// StartOperation logs the start of an operation and returns the function
// that logs its outcome and duration.
func StartOperation(logger *zap.Logger, operation string, fields ...zap.Field) func(error) {
	start := time.Now()
	logger = logger.With(append([]zap.Field{zap.String("operation", operation)}, fields...)...)
	logger.Debug("Operation started")

	return func(err error) {
		duration := zap.Duration("duration", time.Since(start))
		if err != nil {
			logger.Error("Operation failed", duration, zap.Error(err))
			return
		}
		logger.Info("Operation complete", duration)
	}
}
