package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop().Sugar()
)

// Init replaces the process-wide logger. Until it is called every Log is a no-op.
func Init(level LogLevel, format string) error {
	var cfg zap.Config
	if strings.EqualFold(format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	}

	lvl, err := zapcore.ParseLevel(string(level))
	if err != nil {
		return err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	base = z.Sugar()
	mu.Unlock()
	return nil
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

type Log struct {
	s      *zap.SugaredLogger
	err    error
	fields []interface{}
}

func New() *Log {
	mu.RLock()
	defer mu.RUnlock()
	return &Log{s: base}
}

func (l *Log) WithError(err error) *Log {
	return &Log{s: l.s, err: err, fields: l.fields}
}

// With attaches key/value pairs to every entry written through the returned Log.
func (l *Log) With(keysAndValues ...interface{}) *Log {
	fields := make([]interface{}, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)
	return &Log{s: l.s, err: l.err, fields: fields}
}

func (l *Log) kv() []interface{} {
	if l.err == nil {
		return l.fields
	}
	return append(append([]interface{}{}, l.fields...), "error", l.err)
}

func (l *Log) Debug(msg string) {
	l.s.Debugw(msg, l.kv()...)
}

func (l *Log) Info(msg string) {
	l.s.Infow(msg, l.kv()...)
}

func (l *Log) Warn(msg string) {
	l.s.Warnw(msg, l.kv()...)
}

func (l *Log) Error(msg string) {
	l.s.Errorw(msg, l.kv()...)
}
