package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. Extra cores (such as the admin log buffer)
// are teed in alongside the console output.
func New(serviceName string, development bool, extras ...zapcore.Core) (*zap.Logger, error) {
	var encoder zapcore.Encoder
	level := zapcore.InfoLevel

	if development {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
		level = zapcore.DebugLevel
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	if len(extras) > 0 {
		core = zapcore.NewTee(append([]zapcore.Core{core}, extras...)...)
	}

	return zap.New(core, zap.Fields(zap.String("service", serviceName))), nil
}

// NewTestLogger returns a logger for use in tests.
func NewTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}
