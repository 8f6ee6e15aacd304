package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/config"
	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/logging"
	"github.com/steveyegge/versync/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolver = config.ResolverCancel
	cfg.Dashboard.Addr = "127.0.0.1:0"
	return cfg
}

func addWorkspace(t *testing.T, d *Daemon, id string) {
	t.Helper()
	_, err := d.DB().Insert(context.Background(), (&types.Workspace{ID: id, ParentID: "proj_1", Name: id}).Document())
	require.NoError(t, err)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open("", nil, Options{})
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Resolver = "coin-flip"
	_, err = Open("", cfg, Options{})
	assert.Error(t, err)
}

func TestOpen_ResolverFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Resolver = config.ResolverRemote
	d, err := Open("", cfg, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Stop() })

	assert.NotNil(t, d.rendezvous)
	assert.NotNil(t, d.conflicts)
}

func TestActivate_OneShot(t *testing.T) {
	d, err := Open("", testConfig(t), Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Stop() })

	ctx := context.Background()
	assert.ErrorIs(t, d.Activate(ctx, ""), coordinator.ErrNoActiveWorkspace)

	addWorkspace(t, d, "wrk_1")
	require.NoError(t, d.Activate(ctx, "wrk_1"))

	st := d.Coordinator().Status()
	assert.Equal(t, "wrk_1", st.WorkspaceID)
	assert.Equal(t, coordinator.StateReady, st.Local)
	assert.NotEmpty(t, st.ProjectID)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop(), "stop is idempotent")
}

func TestStart_FollowsConfigAndServesStatus(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, config.FileName)
	require.NoError(t, config.Save(path, cfg))

	d, err := Open(path, cfg, Options{Logger: logging.Discard(), Resolver: conflict.Cancel})
	require.NoError(t, err)
	addWorkspace(t, d, "wrk_1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	select {
	case <-d.Ready():
	case err := <-done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not ready")
	}

	next := *cfg
	next.ActiveWorkspace = "wrk_1"
	require.NoError(t, config.Save(path, &next))

	require.Eventually(t, func() bool {
		st := d.Coordinator().Status()
		return st.WorkspaceID == "wrk_1" && st.Local == coordinator.StateReady
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, "wrk_1", d.Config().ActiveWorkspace)

	resp, err := http.Get("http://" + d.Dashboard().Addr() + "/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "wrk_1", status["workspaceId"])

	next.ActiveWorkspace = ""
	require.NoError(t, config.Save(path, &next))
	require.Eventually(t, func() bool {
		return d.Coordinator().ActiveWorkspace() == ""
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
