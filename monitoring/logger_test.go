package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupJSON(t *testing.T) {
	prev := L()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	Setup(Config{Level: "debug", Format: "json", Output: &buf})
	L().Debug("cycle", "angle", 0.25)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "cycle", rec["msg"])
	assert.Equal(t, 0.25, rec["angle"])
}

func TestSetLoggerNilMutes(t *testing.T) {
	prev := L()
	t.Cleanup(func() { SetLogger(prev) })

	SetLogger(nil)
	require.NotNil(t, L())
	assert.NotPanics(t, func() { L().Error("dropped") })
}
