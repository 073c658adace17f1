package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

// FromContext returns the logger carried by ctx, or a debug console logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, Options{})
}

// Options controls the outputs of a logger built by New.
type Options struct {
	// FileName enables a rotated log file next to stdout. Empty disables it.
	FileName string
	// MaxFiles is the number of rotated files to keep (0 keeps all).
	MaxFiles int
	// MaxFileSize is the size in MB at which the file is rotated.
	MaxFileSize int
	JSON        bool
}

func New(level zapcore.LevelEnabler, opts Options) *zap.Logger {
	var encoder zapcore.Encoder
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)}

	if opts.FileName != "" {
		maxSize := opts.MaxFileSize
		if maxSize <= 0 {
			maxSize = 500
		}
		fileLogger := &lumberjack.Logger{
			Filename:   opts.FileName,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxFiles,
			MaxAge:     28,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileLogger), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
