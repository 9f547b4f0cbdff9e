package log

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	Level  = zapcore.Level
	Field  = zap.Field
	Option = zap.Option
)

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// field helpers, re-exported so callers don't need to import zap
var (
	Skip       = zap.Skip
	Binary     = zap.Binary
	Bool       = zap.Bool
	ByteString = zap.ByteString
	Float64    = zap.Float64
	Float32    = zap.Float32
	Int        = zap.Int
	Int64      = zap.Int64
	Int32      = zap.Int32
	Uint32     = zap.Uint32
	String     = zap.String
	Strings    = zap.Strings
	Time       = zap.Time
	Duration   = zap.Duration
	Any        = zap.Any
	ErrorField = zap.Error

	WithCaller    = zap.WithCaller
	AddCallerSkip = zap.AddCallerSkip
	AddStacktrace = zap.AddStacktrace
)

type Logger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

var std = New(nil, InfoLevel)

func Default() *Logger {
	return std
}

// ResetDefault replaces the package level logger.
// Not safe for concurrent use, call it once during startup.
func ResetDefault(l *Logger) {
	std = l
	Info = std.Info
	Warn = std.Warn
	Error = std.Error
	Debug = std.Debug
	Fatal = std.Fatal
}

var (
	Info  = std.Info
	Warn  = std.Warn
	Error = std.Error
	Debug = std.Debug
	Fatal = std.Fatal
)

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.l.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.l.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.l.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.l.Error(msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.l.Fatal(msg, fields...)
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) WithOptions(opts ...Option) *Logger {
	return &Logger{l: l.l.WithOptions(opts...), level: l.level}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) Level() Level {
	return l.level.Level()
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

// DebugEnabled reports whether debug output would be written.
// Used to skip building expensive fields on the hot path.
func (l *Logger) DebugEnabled() bool {
	return l.l.Core().Enabled(DebugLevel)
}

func (l *Logger) Sync() error {
	return l.l.Sync()
}

// Millis is a convenience field for latencies measured in milliseconds.
func Millis(key string, d time.Duration) Field {
	return zap.Float64(key, float64(d.Microseconds())/1000.0)
}
