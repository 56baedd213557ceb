// Package observability owns the process-wide zap logger.
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/critcss/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

const (
	colorGreen = "\x1b[32m"
	colorReset = "\x1b[0m"
)

// palette maps the color names accepted in logger.colors to ANSI escapes.
var palette = map[string]string{
	"red":     "\x1b[31m",
	"green":   colorGreen,
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize builds the global logger on first call; later calls are ignored.
// Human-readable output goes to console. When cfg.LogFile is set, entries are also
// written as JSON to a size-rotated file.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	once.Do(func() {
		globalLogger.Store(build(cfg, console))
		zap.ReplaceGlobals(GetLogger())
		zap.RedirectStdLog(GetLogger())
	})
}

// InitializeLogger initializes logging for the CLI. Logs go to stderr; stdout is
// reserved for the generated stylesheet.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger so the next Initialize takes effect.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func build(cfg config.LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	var consoleEncoder zapcore.Encoder
	if cfg.Format == "console" {
		consoleEncoder = consoleEncoderFor(cfg.Colors)
	} else {
		consoleEncoder = jsonEncoder()
	}
	core := zapcore.NewCore(consoleEncoder, console, level)

	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		core = zapcore.NewTee(core, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotating), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}

	logger := zap.New(core, opts...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	return ec
}

func jsonEncoder() zapcore.Encoder {
	ec := encoderConfig()
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// consoleEncoderFor renders single-line entries with upper-case, optionally colored
// levels. Logger names get a trailing dot, e.g. "critcss.generator.".
func consoleEncoderFor(colors config.ColorConfig) zapcore.Encoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  palette[colors.Debug],
		zapcore.InfoLevel:   palette[colors.Info],
		zapcore.WarnLevel:   palette[colors.Warn],
		zapcore.ErrorLevel:  palette[colors.Error],
		zapcore.DPanicLevel: palette[colors.DPanic],
		zapcore.PanicLevel:  palette[colors.Panic],
		zapcore.FatalLevel:  palette[colors.Fatal],
	}

	ec := encoderConfig()
	ec.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := level.CapitalString()
		if escape := byLevel[level]; escape != "" {
			name = escape + name + colorReset
		}
		enc.AppendString(name)
	}
	ec.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(loggerName + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// GetLogger returns the global logger, or a development logger when Initialize has not
// run yet. The fallback is never stored.
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

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// ignorableSyncError reports errors from fsync on terminals and pipes, which
// cannot be synced on most platforms.
func ignorableSyncError(err error) bool {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP) {
		return true
	}
	return strings.Contains(err.Error(), "sync /dev/std")
}
