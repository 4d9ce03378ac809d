// Package logging builds the zap logger used by every pipeline stage.
package logging

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/palantir/csv-aggregator/internal/config"
)

// Console lines read "<time> <LEVEL> <message> <fields>".
var consoleEncoder = zapcore.EncoderConfig{
	TimeKey:          "time",
	LevelKey:         "level",
	NameKey:          zapcore.OmitKey,
	CallerKey:        zapcore.OmitKey,
	FunctionKey:      zapcore.OmitKey,
	MessageKey:       "message",
	StacktraceKey:    zapcore.OmitKey,
	LineEnding:       zapcore.DefaultLineEnding,
	EncodeLevel:      zapcore.CapitalLevelEncoder,
	EncodeTime:       zapcore.ISO8601TimeEncoder,
	EncodeDuration:   zapcore.StringDurationEncoder,
	ConsoleSeparator: " ",
}

var jsonEncoder = zapcore.EncoderConfig{
	TimeKey:        "time",
	LevelKey:       "severity",
	NameKey:        zapcore.OmitKey,
	CallerKey:      zapcore.OmitKey,
	FunctionKey:    zapcore.OmitKey,
	MessageKey:     "message",
	StacktraceKey:  zapcore.OmitKey,
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.LowercaseLevelEncoder,
	EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
}

// ParseLevel accepts debug, info, warn (or warning) and error, in any case.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to w using the level and format from cfg.
func New(cfg *config.Config, w io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		enc = zapcore.NewJSONEncoder(jsonEncoder)
	case config.LogFormatConsole, "":
		enc = zapcore.NewConsoleEncoder(consoleEncoder)
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.LogFormat)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core), nil
}
