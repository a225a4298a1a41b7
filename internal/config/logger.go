package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Verbose logging uses the development
// encoder at debug level, otherwise only errors are written as JSON.
func (a AppConfig) NewLogger() (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if a.VerboseLogs {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
