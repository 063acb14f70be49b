package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerConfig(t *testing.T) {
	cfg := NewLoggerConfig(LoggerOptions{})
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Level())
	assert.Equal(t, "timestamp", cfg.EncoderConfig.TimeKey)

	cfg = NewLoggerConfig(LoggerOptions{Debug: true, File: "/tmp/bot.log", Console: true})
	assert.Equal(t, []string{"stdout", "/tmp/bot.log"}, cfg.OutputPaths)
	assert.Equal(t, []string{"stderr", "/tmp/bot.log"}, cfg.ErrorOutputPaths)
	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level.Level())
}
