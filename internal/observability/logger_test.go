// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/pdp-injector/internal/config"
)

func TestNewLogger_ConsoleColors(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "pdp-injector",
		Colors:      config.ColorConfig{Info: "green"},
	}
	logger := NewLogger(cfg, zapcore.AddSync(&buf))
	logger.Named("session").Info("Session started.", zap.String("session_id", "abc"))
	logger.Debug("Injection attempt.")

	out := buf.String()
	assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
	assert.Contains(t, out, "pdp-injector.session.")
	assert.Contains(t, out, `"session_id": "abc"`)
	assert.Contains(t, out, "DEBUG", "levels without a color stay plain")
}

func TestNewLogger_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"msg":"kept"`)
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "loud"}, zapcore.AddSync(&buf))
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "injector.log")
	logger := NewLogger(config.LoggerConfig{Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&bytes.Buffer{}))
	logger.Info("to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Format: "json"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Format: "json"}, zapcore.AddSync(&second))
	GetLogger().Info("hello")
	Sync()

	assert.Contains(t, first.String(), "hello")
	assert.Empty(t, second.String())
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}
