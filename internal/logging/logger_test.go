package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"yoyaku/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appCfg = config.AppConfig{
	Name:        "yoyaku",
	Environment: "test",
	Version:     "1.0.0",
}

func TestNewLogger(t *testing.T) {
	t.Run("DefaultStdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{Level: "info", Output: "stdout"}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("Stderr", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{Level: "debug", Output: "stderr"}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("FileInNewDirectory", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "logs", "yoyaku.log")
		logger, closer, err := New(config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath}, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)
		logger.Error().Msg("boom")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "boom")
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("InvalidLevelFallsBackToInfo", func(t *testing.T) {
		var buf bytes.Buffer
		logger, _, err := build(config.LoggingConfig{Level: "chatty"}, appCfg, &buf)
		require.NoError(t, err)
		logger.Debug().Msg("hidden")
		logger.Info().Msg("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := build(config.LoggingConfig{Level: "info"}, appCfg, &buf)
	require.NoError(t, err)

	Component(logger, "slots").Info().Str("date", "2025-06-10").Msg("computed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "yoyaku", entry["app"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "slots", entry["component"])
	assert.Equal(t, "2025-06-10", entry["date"])
}
