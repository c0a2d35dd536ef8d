package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuietSuppressesNonErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelInfo, Format: FormatText, Output: &buf, Quiet: true})

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	assert.Empty(t, buf.String())

	logger.Error("error line")
	assert.Contains(t, buf.String(), "error line")
	assert.True(t, logger.IsQuiet())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelError, Format: FormatText, Output: &buf})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	logger.LogSessionOpen("vc01.corp.example", "operator", "9.0.0", 120*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, `"endpoint":"vc01.corp.example"`)
	assert.Contains(t, out, `"principal":"operator"`)
	assert.Contains(t, out, `"reported_version":"9.0.0"`)
}

func TestSessionHelpersNeverLogSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelDebug, Format: FormatText, Output: &buf})

	logger.LogSessionOpen("vc01.corp.example", "operator", "9.0.0", time.Second)
	logger.LogVersionGate("vc01.corp.example", "9.0.0", "9.0", true)
	logger.LogTaskStart("vc01.corp.example")
	logger.LogRunSummary("run-1", 3, 1, 1, 1, 0, 5*time.Second)

	// Nothing that looks like a credential should ever reach the output
	out := buf.String()
	assert.NotContains(t, out, "password")
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "token")
}

func TestNewLoggerFromConfig(t *testing.T) {
	logger := NewLoggerFromConfig("debug", "json", false)
	assert.NotNil(t, logger)
	assert.False(t, logger.IsQuiet())

	// Unknown values fall back to defaults rather than failing
	logger = NewLoggerFromConfig("bogus", "bogus", false)
	assert.NotNil(t, logger)
}
