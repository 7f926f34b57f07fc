// internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/pdp-injector/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const colorReset = "\x1b[0m"

var colorMap = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// NewLogger builds a logger from cfg writing to console, plus a rotated JSON
// file when cfg.LogFile is set. An unparsable level falls back to info.
func NewLogger(cfg config.LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoderFor(cfg), console, level)}
	if cfg.LogFile != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoderFor(config.LoggerConfig{Format: "json"}), rotated, level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...).Named(cfg.ServiceName)
}

// Initialize installs the process-wide logger. Only the first call has any
// effect.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	once.Do(func() {
		logger := NewLogger(cfg, console)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger on stderr, keeping stdout
// free for command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// GetLogger returns the global logger, or a development logger if none has
// been initialized yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes the global logger.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// Terminals and pipes reject fsync.
func ignorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/std") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "operation not supported")
}

func encoderFor(cfg config.LoggerConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		ec.EncodeLevel = levelColors(cfg.Colors)
		ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

func levelColors(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := strings.ToUpper(level.String())
		if color := colorMap[byLevel[level]]; color != "" {
			enc.AppendString(color + name + colorReset)
			return
		}
		enc.AppendString(name)
	}
}
