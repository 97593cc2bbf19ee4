// Package logger provides the application-wide zap logger.
package logger

import (
	"strings"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger from the log configuration.
func New(cfg config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Log.Level))); err == nil {
		level = parsed
	}

	zapCfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Log.Format, "console") {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}

var Module = fx.Module("logger",
	fx.Provide(New),
	fx.WithLogger(newFxLogger),
)
