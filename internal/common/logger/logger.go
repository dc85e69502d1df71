package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one structured entry per action. The action doubles as the message.
type Logger struct{ z *zap.Logger }

var env = "production"

// SetEnv switches new loggers between the JSON production encoder and the console encoder.
func SetEnv(e string) { env = e }

func New(service string) *Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.With(zap.String("service", service), zap.String("hostname", hostname()))}
}

// Nop discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// FromZap wraps an existing zap logger, mostly for tests with observers.
func FromZap(z *zap.Logger) *Logger { return &Logger{z: z} }

func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Info(action string, fields ...zap.Field)  { l.zap().Info(action, fields...) }
func (l *Logger) Debug(action string, fields ...zap.Field) { l.zap().Debug(action, fields...) }
func (l *Logger) Warn(action string, fields ...zap.Field)  { l.zap().Warn(action, fields...) }

func (l *Logger) Error(action string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zap().Error(action, fields...)
}

func (l *Logger) Sync() { _ = l.zap().Sync() }

func (l *Logger) zap() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func hostname() string { h, _ := os.Hostname(); return h }
