package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nxtri/cardpilot/internal/config"
)

// These tests drive the global logger, so none of them run in parallel.

func consoleConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "cardpilot-test",
		Colors:      config.ColorConfig{Info: "green", Error: "red"},
	}
}

func TestInitializeConsoleOutput(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(consoleConfig(), zapcore.AddSync(&buf))

	GetLogger().Info("form loaded", zap.String("qid", "20"))

	out := buf.String()
	assert.Contains(t, out, "form loaded")
	assert.Contains(t, out, "cardpilot-test")
	assert.Contains(t, out, colorGreen, "info lines carry the configured color")
}

func TestInitializeJSONOutput(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	cfg := consoleConfig()
	cfg.Format = "json"
	Initialize(cfg, zapcore.AddSync(&buf))

	GetLogger().Info("run starting")

	out := buf.String()
	assert.Contains(t, out, `"msg":"run starting"`)
	assert.Contains(t, out, `"level":"INFO"`)
	assert.NotContains(t, out, colorGreen)
}

func TestInitializeHappensOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(consoleConfig(), zapcore.AddSync(&first))
	Initialize(consoleConfig(), zapcore.AddSync(&second))

	GetLogger().Info("only the first writer wins")

	assert.Contains(t, first.String(), "only the first writer wins")
	assert.Empty(t, second.String())
}

func TestInitializeBadLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	cfg := consoleConfig()
	cfg.Level = "chatty"
	Initialize(cfg, zapcore.AddSync(&buf))

	GetLogger().Debug("suppressed")
	GetLogger().Info("kept")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "kept")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	require.NotNil(t, GetLogger(), "an uninitialized process still gets a usable logger")
}
