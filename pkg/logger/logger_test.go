package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlpilot/beercrawl/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("creates logger with JSON format and stdout output", func(t *testing.T) {
		cfg := &config.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		}

		log, err := NewLogger(cfg)
		require.NoError(t, err)
		require.NotNil(t, log)

		log.Info("test message")
		assert.NoError(t, log.Close())
	})

	t.Run("creates logger with console format", func(t *testing.T) {
		cfg := &config.LoggingConfig{
			Level:  "debug",
			Format: "console",
			Output: "stdout",
		}

		log, err := NewLogger(cfg)
		require.NoError(t, err)
		require.NotNil(t, log)

		log.Debug("test debug message")
	})

	t.Run("writes JSON entries to a file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")
		cfg := &config.LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "file",
			FilePath: logFile,
		}

		log, err := NewLogger(cfg)
		require.NoError(t, err)
		log.Info("file message")
		require.NoError(t, log.Close())

		f, err := os.Open(logFile)
		require.NoError(t, err)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		require.True(t, scanner.Scan(), "expected at least one log line")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "file message", entry["message"])
		assert.NotEmpty(t, entry["timestamp"])
	})

	t.Run("rejects an unknown level", func(t *testing.T) {
		cfg := &config.LoggingConfig{Level: "verbose", Format: "json", Output: "stdout"}
		_, err := NewLogger(cfg)
		assert.Error(t, err)
	})

	t.Run("level filters lower entries", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")
		cfg := &config.LoggingConfig{
			Level:    "warn",
			Format:   "json",
			Output:   "file",
			FilePath: logFile,
		}

		log, err := NewLogger(cfg)
		require.NoError(t, err)
		log.Info("should be dropped")
		log.Warn("should appear")
		require.NoError(t, log.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "should be dropped")
		assert.Contains(t, string(data), "should appear")
	})
}

func TestWithTraceIDField(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	cfg := &config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	log.WithTraceID("trace-abc-123").Info("stamped")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &entry))
	assert.Equal(t, "trace-abc-123", entry["trace_id"])
}
