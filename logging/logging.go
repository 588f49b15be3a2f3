// Package logging builds the zap logger shared by every BirdQuest component.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction. File, when set, adds a rotating log
// file next to the console output.
type Options struct {
	Debug bool
	File  string
}

const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

// New returns a console logger. Debug mode uses zap's development encoder
// at debug level, otherwise JSON at info level.
func New(opts Options) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEnc := zapcore.NewJSONEncoder(encCfg)
	if opts.Debug {
		level = zapcore.DebugLevel
		devCfg := zap.NewDevelopmentEncoderConfig()
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(newRotatingFile(opts)),
			level,
		))
	}

	zopts := []zap.Option{zap.AddCaller()}
	if opts.Debug {
		zopts = append(zopts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...).Sugar()
}

func newRotatingFile(opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		Compress:   false,
	}
}
