package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.LogConfig{Level: "info", Format: "json"})

	l.Debug("hidden")
	l.With(slog.String("component", "coordinator")).Info("hello")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "coordinator", out["component"])
	assert.Equal(t, "hello", out["msg"])
}

func TestSetup_RotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		_ = Close()
		mu.Lock()
		logger = nil
		mu.Unlock()
	})

	path := filepath.Join(t.TempDir(), "versync.log")
	cfg := config.DefaultConfig().Log
	cfg.File = path
	cfg.Format = "json"
	Setup(cfg)

	WithComponent("daemon").Info("started", "pid", 42)
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &out))
	assert.Equal(t, "daemon", out["component"])
	assert.Equal(t, "started", out["msg"])
	assert.EqualValues(t, 42, out["pid"])

	assert.NoError(t, Close(), "second close is a no-op")
}
