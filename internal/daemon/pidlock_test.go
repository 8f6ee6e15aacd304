package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/logging"
)

func TestPIDLock_SingleInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "versync.pid")

	l, err := AcquirePIDLock(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = AcquirePIDLock(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	l2, err := AcquirePIDLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())

	_, err = AcquirePIDLock("")
	assert.Error(t, err)
}

func TestStart_RefusesSecondService(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dashboard.Enabled = false

	held, err := AcquirePIDLock(cfg.PIDPath())
	require.NoError(t, err)
	defer held.Release()

	d, err := Open("", cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	err = d.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
