// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "test-service",
		Colors:      config.ColorConfig{Info: "green"},
	}
	Initialize(cfg, zapcore.Lock(&buf))

	GetLogger().Info("hello from the console encoder")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "hello from the console encoder")
	assert.Contains(t, out, colorGreen, "info level should be colorized green")
	assert.Contains(t, out, colorReset)
	assert.Contains(t, out, "test-service.")
}

func TestInitializeJSONLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	cfg := config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "test-service",
	}
	Initialize(cfg, zapcore.Lock(&buf))

	GetLogger().Info("structured message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "structured message", entry["msg"])
}

func TestFileCoreWritesJSON(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logFile := filepath.Join(t.TempDir(), "pilot.log")
	var buf syncBuffer
	cfg := config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "test-service",
		LogFile:     logFile,
		MaxSize:     1,
	}
	Initialize(cfg, zapcore.Lock(&buf))

	GetLogger().Info("to both sinks")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "to both sinks", entry["msg"])
}

func TestGetLoggerBeforeInitializeFallsBack(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	assert.NotNil(t, logger, "fallback logger must be usable before Initialize")
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf syncBuffer
	Initialize(config.LoggerConfig{Level: "chatty", Format: "json", ServiceName: "s"}, zapcore.Lock(&buf))

	GetLogger().Debug("should be filtered")
	GetLogger().Info("should pass")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should pass")
}
