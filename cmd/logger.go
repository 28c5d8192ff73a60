package cmd

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logFormatJSON    = "json"
	logFormatConsole = "console"
)

// newLogger builds a production zap logger that writes to w.
func newLogger(verbose bool, format string, w io.Writer) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	switch format {
	case "", logFormatJSON:
		cfg.Encoding = logFormatJSON
	case logFormatConsole:
		cfg.Encoding = logFormatConsole
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json or console)", format)
	}

	var encoder zapcore.Encoder
	if cfg.Encoding == logFormatConsole {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}
