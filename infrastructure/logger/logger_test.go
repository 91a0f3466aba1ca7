package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestFileOutputAndLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Outputs = []string{"file"}
	cfg.OutputFile = filepath.Join(dir, "app.log")
	cfg.ErrorFile = filepath.Join(dir, "error.log")

	l, err := New(cfg)
	require.NoError(t, err)

	l.Debug("hidden")
	l.LogStrategy("started", "s-1", map[string]interface{}{"type": "ladder"})
	l.LogOrder("placed", "ord-1", nil)
	l.LogError(errors.New("boom"), nil)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "strategy_event")
	assert.Contains(t, out, `"strategy_id":"s-1"`)
	assert.Contains(t, out, `"order_id":"ord-1"`)

	errData, err := os.ReadFile(cfg.ErrorFile)
	require.NoError(t, err)
	assert.Contains(t, string(errData), "boom")
	assert.NotContains(t, string(errData), "strategy_event")
}

func TestSetLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Outputs = []string{"file"}
	cfg.OutputFile = filepath.Join(dir, "app.log")

	l, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "info", l.Level())

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, "debug", l.Level())
	l.Debug("visible now")

	assert.Error(t, l.SetLevel("verbose"))
	assert.Equal(t, "debug", l.Level())

	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible now")
}

func TestWithFieldsSharesLevel(t *testing.T) {
	l := NewNop()
	child := l.WithFields(map[string]interface{}{"component": "engine"})
	require.NoError(t, l.SetLevel("warn"))
	assert.Equal(t, "warn", child.Level())
}
