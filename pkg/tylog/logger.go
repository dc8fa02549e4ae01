// Package tylog builds the process-wide zap logger and bridges it to
// pkg/message, so anything that calls message.Emit with a log message ends
// up in the same sinks as code that logs through zap directly.
package tylog

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tytools/tytools/pkg/message"
	"github.com/tytools/tytools/pkg/tyconfig"
)

// Setup builds a zap.Logger from c, installs it as the global logger, and
// wires pkg/message's log messages through it. The caller should defer
// logger.Sync().
func Setup(c tyconfig.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := defaultEncoderConfig(c.Development)
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		cores = append(cores, coreFor(out, c, encoder, level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	core := zapcore.NewTee(cores...)
	opts := []zap.Option{zap.AddCaller()}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	logger := zap.New(core, opts...)
	zap.ReplaceGlobals(logger)
	message.SetHandler(func(m message.Message) { forward(logger, m) })
	return logger, nil
}

func coreFor(out string, c tyconfig.LogConfig, encoder zapcore.Encoder, level zap.AtomicLevel) zapcore.Core {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	case "stderr":
		return zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	default:
		var ws zapcore.WriteSyncer
		if c.Rotation.Enable {
			ws = zapcore.AddSync(&lumberjack.Logger{
				Filename:   chooseFilename(out, c),
				MaxSize:    maxInt(c.Rotation.MaxSizeMB, 10),
				MaxBackups: maxInt(c.Rotation.MaxBackups, 1),
				MaxAge:     maxInt(c.Rotation.MaxAgeDays, 7),
				Compress:   c.Rotation.Compress,
			})
		} else {
			f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				ws = zapcore.AddSync(os.Stderr)
			} else {
				ws = zapcore.AddSync(f)
			}
		}
		return zapcore.NewCore(encoder, ws, level)
	}
}

func defaultEncoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	return zap.NewProductionEncoderConfig()
}

func chooseFilename(out string, c tyconfig.LogConfig) string {
	if c.Rotation.Enable && strings.TrimSpace(c.Rotation.Filename) != "" {
		return c.Rotation.Filename
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// forward turns a pkg/message log message into a zap call, and folds status
// and progress messages into structured Info lines so they land in the same
// sinks without callers needing a second logging path.
func forward(logger *zap.Logger, m message.Message) {
	switch m.Kind {
	case message.KindLog:
		switch m.Level {
		case message.LevelDebug:
			logger.Debug(m.Text)
		case message.LevelWarn:
			logger.Warn(m.Text)
		case message.LevelError:
			logger.Error(m.Text)
		default:
			logger.Info(m.Text)
		}
	case message.KindStatus:
		logger.Info("task status", zap.String("task", m.TaskName), zap.String("status", m.Status))
	case message.KindProgress:
		logger.Debug("progress", zap.String("action", m.Action), zap.Int64("value", m.Value), zap.Int64("max", m.Max))
	}
}
