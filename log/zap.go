package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

// New creates a json logger writing to writer (stderr if nil)
func New(writer io.Writer, level Level, opts ...Option) *Logger {
	return build(writer, level, zapcore.NewJSONEncoder(prodEncoderConfig()), opts...)
}

// DevLogger creates a console logger intended for interactive use
func DevLogger(writer io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return build(writer, level, zapcore.NewConsoleEncoder(cfg), opts...)
}

// WithFilterRules installs zapfilter rules on top of the level.
// Example: "info:* debug:trainer debug:predictor.*"
func WithFilterRules(rules string) (Option, error) {
	filter, err := zapfilter.ParseRules(rules)
	if err != nil {
		return nil, err
	}
	return zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapfilter.NewFilteringCore(c, filter)
	}), nil
}

func build(writer io.Writer, level Level, enc zapcore.Encoder, opts ...Option) *Logger {
	if writer == nil {
		writer = os.Stderr
	}
	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(enc, zapcore.AddSync(writer), atom)
	return &Logger{l: zap.New(core, opts...), level: atom}
}

func prodEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	return cfg
}
