// Package logging builds the zap logger used by the command-line tool.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation controls lumberjack rotation of file outputs.
type Rotation struct {
	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
}

// Config is the "log" section of the config file.
type Config struct {
	Level    string   `yaml:"level"`
	Format   string   `yaml:"format"`
	Output   []string `yaml:"output"`
	Rotation Rotation `yaml:"rotation"`
}

// DefaultConfig logs warnings and above to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "warn",
		Format: "console",
		Output: []string{"stderr"},
	}
}

// New builds a logger from cfg. Outputs are "stdout", "stderr" or a file
// path; file outputs are rotated. The returned close function syncs the
// logger and closes any files.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level := zapcore.WarnLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("log format: unknown %q", cfg.Format)
	}

	outputs := cfg.Output
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var (
		writers []zapcore.WriteSyncer
		closers []io.Closer
	)
	for _, out := range outputs {
		switch out {
		case "stdout":
			writers = append(writers, zapcore.Lock(os.Stdout))
		case "stderr":
			writers = append(writers, zapcore.Lock(os.Stderr))
		default:
			lj := &lumberjack.Logger{
				Filename:   out,
				MaxSize:    cfg.Rotation.MaxSize,
				MaxBackups: cfg.Rotation.MaxBackups,
				MaxAge:     cfg.Rotation.MaxAge,
				Compress:   cfg.Rotation.Compress,
			}
			writers = append(writers, zapcore.AddSync(lj))
			closers = append(closers, lj)
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	closeFn := func() error {
		// Syncing a terminal returns EINVAL on some platforms.
		_ = log.Sync()
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}
	return log, closeFn, nil
}
