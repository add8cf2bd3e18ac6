package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"loud", slog.LevelWarn},
		{"", slog.LevelWarn},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in, slog.LevelWarn), "ParseLevel(%q)", tt.in)
	}
}

func TestDefaultConfig_ReadsEnv(t *testing.T) {
	t.Setenv("TUNEBRIDGE_LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, DefaultConfig().Level)

	t.Setenv("TUNEBRIDGE_LOG_LEVEL", "")
	assert.Equal(t, slog.LevelInfo, DefaultConfig().Level)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})

	log.Debug("hidden")
	log.Info("state persisted", slog.String("key", "playbackState"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"key":"playbackState"`)
}
