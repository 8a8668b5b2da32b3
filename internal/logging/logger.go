// Package logging builds the zap logger used across the relay.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stdout. debug lowers the level to Debug;
// format is "json" (default) or "console".
func New(service string, debug bool, format string) *zap.Logger {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	return zap.New(newCore(zapcore.AddSync(os.Stdout), level, format), zap.AddCaller()).
		With(zap.String("service", service))
}

func newCore(w zapcore.WriteSyncer, level zapcore.Level, format string) zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	var encoder zapcore.Encoder
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewCore(encoder, w, level)
}

// Sync flushes buffered entries, ignoring the EINVAL stdout returns on some
// platforms.
func Sync(log *zap.Logger) {
	if log != nil {
		_ = log.Sync()
	}
}
