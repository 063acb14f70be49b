package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// LoggerOptions configures the process-wide logger.
type LoggerOptions struct {
	Debug bool
	// File receives a copy of every entry; empty logs to stdout only.
	File string
	// Console switches from JSON to the human readable encoder.
	Console bool
}

// NewLoggerConfig returns the zap config InitLoggerWithOptions builds from.
func NewLoggerConfig(opts LoggerOptions) zap.Config {
	config := zap.NewProductionConfig()
	if opts.Debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if opts.Console {
		config.Encoding = "console"
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, opts.File)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"
	return config
}

// InitLogger builds the process-wide logger writing to stdout and
// backrunner.log.
func InitLogger(debug bool) *zap.Logger {
	return InitLoggerWithOptions(LoggerOptions{Debug: debug, File: "backrunner.log"})
}

// InitLoggerWithOptions builds the process-wide logger. Later calls return
// the first instance regardless of opts.
func InitLoggerWithOptions(opts LoggerOptions) *zap.Logger {
	once.Do(func() {
		logger, err := NewLoggerConfig(opts).Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		if err != nil {
			panic(err)
		}
		log = logger.With(zap.String("service", "backrunner"))
	})
	return log
}

// GetLogger returns the process-wide logger, building a default one if
// InitLogger was never called.
func GetLogger() *zap.Logger {
	return InitLogger(false)
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
