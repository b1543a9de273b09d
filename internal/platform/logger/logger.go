package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/nulzo/prism-router/internal/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines the configuration for the logger.
type Config struct {
	Level       string `mapstructure:"level"`  // debug, info, warn, error
	Format      string `mapstructure:"format"` // json, console
	EnableColor bool   `mapstructure:"color"`  // console mode only
}

var (
	globalLogger *zap.Logger
	// helperLogger backs the package-level functions and skips their frame
	helperLogger *zap.Logger
	atom         = zap.NewAtomicLevel()
	once         sync.Once
)

// DefaultConfig returns a default configuration based on environment variables.
func DefaultConfig() Config {
	return Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "console"),
		EnableColor: shouldEnableColor(),
	}
}

// Initialize sets up the global logger. Only the first call has an effect.
func Initialize(cfg Config) {
	once.Do(func() {
		setGlobal(New(cfg, os.Stdout))
	})
}

func setGlobal(l *zap.Logger) {
	globalLogger = l
	helperLogger = l.WithOptions(zap.AddCallerSkip(1))
}

// New builds a logger writing to w. The level is shared with SetLevel.
func New(cfg Config, w io.Writer, opts ...zap.Option) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	atom.SetLevel(parseLevel(cfg.Level))

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		cli.SetEnabled(false)
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		if cfg.EnableColor {
			cli.SetEnabled(true)
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			encoder = NewColoredConsoleEncoder(encoderConfig)
		} else {
			cli.SetEnabled(false)
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), atom)

	opts = append([]zap.Option{zap.AddCaller()}, opts...)
	if cfg.Level != "debug" && cfg.Level != "error" {
		opts = append(opts, zap.AddStacktrace(zapcore.FatalLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...)
}

// SetLevel changes the level of every logger built by this package.
func SetLevel(lvl string) {
	atom.SetLevel(parseLevel(lvl))
}

// Get returns the global logger. Initializes with defaults if not already set.
func Get() *zap.Logger {
	Initialize(DefaultConfig())
	return globalLogger
}

func helper() *zap.Logger {
	Initialize(DefaultConfig())
	return helperLogger
}

// Info and friends log on the global logger for code that has none injected.
func Info(msg string, fields ...zap.Field) {
	helper().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	helper().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	helper().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	helper().Warn(msg, fields...)
}

func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.ToLower(value)
	}
	return fallback
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// shouldEnableColor checks NO_COLOR (https://no-color.org/) and LOG_COLOR
func shouldEnableColor() bool {
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	if val := os.Getenv("LOG_COLOR"); val != "" {
		return val == "true" || val == "1"
	}
	return true
}
