package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"talkpartner/internal/config"
)

// NewLogger builds the process logger: JSON in production, a console encoder
// when debugging.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid TALKPARTNER_LOG_LEVEL %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("talkpartner"), nil
}
