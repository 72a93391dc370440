package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger for env: "production" logs JSON at info,
// "test" discards everything, anything else is the development console
// logger.
func New(env string) (*zap.Logger, error) {
	switch env {
	case "production", "prod":
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	case "test", "nop":
		return zap.NewNop(), nil
	default:
		return zap.NewDevelopment()
	}
}
