package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// ErrInvalidLevel is returned when Config.Level is not a known zap level.
	ErrInvalidLevel = errors.New("invalid log level")

	// ErrInvalidFormat is returned when Config.Format is neither console nor json.
	ErrInvalidFormat = errors.New("invalid log format")
)

// Client exposes convenience helpers for emitting structured log entries.
type Client interface {
	Info(message string, fields ...zap.Field)
	Warn(message string, fields ...zap.Field)
	Error(message string, fields ...zap.Field)
	Debug(message string, fields ...zap.Field)
	Trace(message string, fields ...zap.Field)
}

// Config controls how a Client writes log entries.
type Config struct {
	// Logger is used as-is when set; the remaining fields are ignored.
	Logger *zap.Logger

	// Level is the minimum level written. Defaults to "warn".
	Level string

	// Format is "console" or "json". Defaults to "console".
	Format string

	// Output receives log entries. Defaults to os.Stderr.
	Output io.Writer
}

// client implements Client on top of a zap logger.
type client struct {
	logger *zap.Logger
}

// New creates a Client from cfg.
func New(cfg Config) (Client, error) {
	if cfg.Logger != nil {
		return &client{logger: cfg.Logger}, nil
	}

	level := zapcore.WarnLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, cfg.Level)
		}
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level)
	return &client{logger: zap.New(core).Named("fetchmock")}, nil
}

// Default returns a Client writing warnings and errors to stderr.
func Default() Client {
	c, err := New(Config{})
	if err != nil {
		return Nop()
	}
	return c
}

// Nop returns a Client that discards every entry.
func Nop() Client {
	return &client{logger: zap.NewNop()}
}

func (c *client) Info(message string, fields ...zap.Field)  { c.logger.Info(message, fields...) }
func (c *client) Warn(message string, fields ...zap.Field)  { c.logger.Warn(message, fields...) }
func (c *client) Error(message string, fields ...zap.Field) { c.logger.Error(message, fields...) }
func (c *client) Debug(message string, fields ...zap.Field) { c.logger.Debug(message, fields...) }

// Trace is logged at debug level with a trace marker; zap has no lower level.
func (c *client) Trace(message string, fields ...zap.Field) {
	c.logger.Debug(message, append(fields, zap.Bool("trace", true))...)
}
