package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config drives how the zap logger is built.
type Config struct {
	Development bool
	Level       string
	Encoding    string
}

var (
	mu     sync.Mutex
	global *zap.Logger
)

// MustInit builds the process-wide logger, panicking on a bad config.
func MustInit(cfg Config) *zap.Logger {
	l, err := New(cfg)
	if err != nil {
		panic(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		_ = global.Sync()
	}
	global = l
	return global
}

// Sync flushes any buffered log entries on the process-wide logger.
func Sync() error {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return nil
	}

	if err := l.Sync(); err != nil {
		// Syncing to a terminal is not supported on some platforms.
		if errors.Is(err, syscall.ENOTTY) || errors.Is(err, os.ErrInvalid) {
			return nil
		}
		return err
	}
	return nil
}

// New returns a zap.Logger configured according to cfg. Development mode
// defaults to a colorized console encoder, production to JSON.
func New(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if cfg.Encoding != "" {
		zapCfg.Encoding = cfg.Encoding
	}
	zapCfg.EncoderConfig = encoderConfig(zapCfg.Encoding)

	if cfg.Level != "" {
		level := zapcore.InfoLevel
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	if encoding == "console" {
		cfg.ConsoleSeparator = " | "
		cfg.EncodeLevel = consoleLevelEncoder
		cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
		}
		return cfg
	}

	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

var stdoutIsTerminal = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

func consoleLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	label := fmt.Sprintf("%-5s", strings.ToUpper(level.String()))
	if stdoutIsTerminal {
		enc.AppendString(levelColor(level) + label + "\x1b[0m")
		return
	}
	enc.AppendString(label)
}

func levelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "\x1b[36m" // cyan
	case zapcore.WarnLevel:
		return "\x1b[33m" // yellow
	case zapcore.ErrorLevel, zapcore.FatalLevel:
		return "\x1b[31m" // red
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		return "\x1b[35m" // magenta
	default:
		return "\x1b[32m" // green
	}
}
