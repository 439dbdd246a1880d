package logging

import (
	"fmt"

	"github.com/atera92/mensetsu-app/internal/config"
	"go.uber.org/zap"
)

// New builds the process logger: JSON production output by default, console
// output in development mode.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
