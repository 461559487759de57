package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ranking-cache-service/internal/config"
)

// Init initializes a global zap logger and returns it.
func Init() (*zap.Logger, error) {
	return InitWith(config.LoggingConfig{Mode: "development"})
}

// InitWith builds the global logger from the logging section: production mode
// writes JSON, development mode writes the console format.
func InitWith(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Mode {
	case "production":
		zc = zap.NewProductionConfig()
	case "", "development":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown logging mode %q", cfg.Mode)
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = zap.L().Sync()
}
