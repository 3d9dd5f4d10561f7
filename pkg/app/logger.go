package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger builds a JSON production logger at the given level.
func Logger(level string) *zap.Logger {
	return build(zap.NewProductionConfig(), level)
}

// ConsoleLogger builds a human readable logger writing to stderr, for command line use.
func ConsoleLogger(level string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return build(cfg, level)
}

func build(cfg zap.Config, level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		panic(err)
	}
	cfg.Level.SetLevel(lvl)

	lg, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return lg
}
