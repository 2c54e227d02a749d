package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production zap logger. level is a zap level name;
// "debug" also switches to the human-readable development encoder.
func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
	case "debug":
		config = zap.NewDevelopmentConfig()
	default:
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
