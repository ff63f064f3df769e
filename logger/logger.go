// Package logger builds the process-wide zap logger.
package logger

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
	DefaultTimeFormat = "2006/01/02 15:04:05.000"

	// DefaultLogMaxSize is the default size of log files.
	DefaultLogMaxSize = 100 // MB
)

// FileConfig enables a rotated log file next to stdout.
type FileConfig struct {
	// Log filename, leave empty to disable file log.
	Filename string
	// Max size for a single file, in MB.
	MaxSize int
	// Max log keep days, default is never deleting.
	MaxDays int
	// Maximum number of old log files to retain.
	MaxBackups int
}

// Config selects level, encoding and optional file output.
type Config struct {
	// Log level.
	Level string
	// Log format. one of console or json.
	Format string
	File   FileConfig
}

func NewDefaultConfig() *Config {
	return &Config{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
	}
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(level string) (zapcore.Level, error) {
	l := zap.NewAtomicLevel()
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return l.Level(), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(DefaultTimeFormat)

	switch strings.ToLower(format) {
	case "", "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg), nil
	case "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	default:
		return nil, errors.Errorf("invalid log format %q", format)
	}
}

// New builds a logger writing to stdout and, if configured, to a rotated file.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	enc, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	sink := zapcore.Lock(zapcore.AddSync(os.Stdout))
	if cfg.File.Filename != "" {
		maxSize := cfg.File.MaxSize
		if maxSize <= 0 {
			maxSize = DefaultLogMaxSize
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    maxSize,
			MaxAge:     cfg.File.MaxDays,
			MaxBackups: cfg.File.MaxBackups,
		}))
	}

	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}
