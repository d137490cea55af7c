package app

import (
	"github.com/FooledKiwi/busstop-api/internal/config"
	"go.uber.org/zap"
)

// NewLogger builds the process logger: JSON for production, a colored
// console encoder when cfg.LogFormat is "console".
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, &config.ConfigError{Field: "LOG_LEVEL", Message: err.Error()}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	return zcfg.Build()
}
