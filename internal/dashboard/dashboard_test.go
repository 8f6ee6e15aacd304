package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/logging"
	"github.com/steveyegge/versync/internal/types"
	"github.com/steveyegge/versync/internal/vcs"
)

type fixedStatus coordinator.Status

func (s fixedStatus) Status() coordinator.Status { return coordinator.Status(s) }

func newTestServer(t *testing.T, conflicts *Conflicts) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(&Config{
		Status:    fixedStatus{WorkspaceID: "wrk_1", Git: coordinator.StateReady, Local: coordinator.StateReady},
		Conflicts: conflicts,
		Logger:    logging.Discard(),
	})
	s.StartBroadcasting()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) (MessageType, map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	var payload map[string]any
	if len(msg.Data) > 0 && msg.Data[0] == '{' {
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
	}
	return msg.Type, payload
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(&Config{Addr: "127.0.0.1:0", Logger: logging.Discard()})
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.Addr() + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no status source configured")

	require.NoError(t, s.Stop())
}

func TestWebSocket_StatusOnConnectThenChanges(t *testing.T) {
	s, ts := newTestServer(t, nil)
	conn := dial(t, ts)

	typ, payload := read(t, conn)
	assert.Equal(t, MessageTypeStatus, typ)
	assert.Equal(t, "wrk_1", payload["workspaceId"])
	assert.Equal(t, "ready", payload["git"])
	assert.Equal(t, 1, s.ClientCount())

	h := NewHandler(s, fixedStatus{}, logging.Discard())
	doc := &types.Document{ID: "req_1", Type: types.TypeRequest, ParentID: "wrk_1", Fields: map[string]any{"name": "List users"}}
	h.OnChanges([]docdb.ChangeRecord{{Kind: docdb.ChangeInsert, Doc: doc, FromSync: true}})

	typ, payload = read(t, conn)
	assert.Equal(t, MessageTypeChanges, typ)
	records := payload["records"].([]any)
	require.Len(t, records, 1)
	rec := records[0].(map[string]any)
	assert.Equal(t, "req_1", rec["id"])
	assert.Equal(t, "List users", rec["name"])
	assert.Equal(t, "insert", rec["kind"])
	assert.Equal(t, true, rec["fromSync"])

	h.OnNotification(coordinator.Notification{Handle: "git", Message: "clone failed", Retryable: true})
	typ, payload = read(t, conn)
	assert.Equal(t, MessageTypeNotification, typ)
	assert.Equal(t, "clone failed", payload["message"])
	assert.Equal(t, true, payload["retryable"])

	typ, _ = read(t, conn)
	assert.Equal(t, MessageTypeStatus, typ)
}

// countingStatus reports a generation that grows with every read.
type countingStatus struct{ n atomic.Uint64 }

func (c *countingStatus) Status() coordinator.Status {
	return coordinator.Status{Git: coordinator.StateReady, Generation: c.n.Add(1)}
}

func TestHandler_BroadcastsStatusOnEngineSwap(t *testing.T) {
	s, ts := newTestServer(t, nil)
	conn := dial(t, ts)
	typ, _ := read(t, conn)
	require.Equal(t, MessageTypeStatus, typ)

	status := &countingStatus{}
	h := NewHandler(s, status, logging.Discard())
	handle := vcs.NewHandle(conflict.Cancel)
	cancel := handle.Subscribe(h.OnEngineSwap)

	handle.Reset()
	typ, payload := read(t, conn)
	assert.Equal(t, MessageTypeStatus, typ)
	assert.Equal(t, "ready", payload["git"])
	assert.EqualValues(t, 1, payload["generation"])

	cancel()
	handle.Reset()
	h.BroadcastStatus()
	_, payload = read(t, conn)
	assert.EqualValues(t, 2, payload["generation"], "no broadcast after unsubscribing")
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "wrk_1", out["workspaceId"])
	assert.Equal(t, "ready", out["local"])
}

func resolveAsync(rv *conflict.Rendezvous, conflicts []conflict.MergeConflict) <-chan []conflict.MergeConflict {
	out := make(chan []conflict.MergeConflict, 1)
	errs := make(chan error, 1)
	go func() {
		resolved, err := rv.Resolve(context.Background(), conflicts)
		if err != nil {
			errs <- err
			close(out)
			return
		}
		out <- resolved
	}()
	return out
}

func waitPending(t *testing.T, c *Conflicts) PendingConflict {
	t.Helper()
	var pending []PendingConflict
	require.Eventually(t, func() bool {
		pending = c.Pending()
		return len(pending) == 1
	}, 5*time.Second, 10*time.Millisecond)
	return pending[0]
}

func TestConflicts_AnswerOverHTTP(t *testing.T) {
	rv := conflict.NewRendezvous()
	c := NewConflicts(rv, logging.Discard())
	s, ts := newTestServer(t, c)
	c.Attach(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn := dial(t, ts)
	typ, _ := read(t, conn)
	require.Equal(t, MessageTypeStatus, typ)

	result := resolveAsync(rv, []conflict.MergeConflict{
		{Key: "req_1", Ours: []byte("a"), Theirs: []byte("b")},
		{Key: "req_2", Ours: []byte("c"), Theirs: []byte("d")},
	})

	typ, payload := read(t, conn)
	assert.Equal(t, MessageTypeConflict, typ)
	pending := waitPending(t, c)
	assert.Equal(t, pending.ID, payload["id"])

	resp, err := http.Get(ts.URL + "/conflicts")
	require.NoError(t, err)
	var listed []PendingConflict
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Conflicts, 2)

	body, _ := json.Marshal(Answer{Resolutions: map[string]conflict.Resolution{
		"req_1": conflict.TakeTheirs,
		"req_2": conflict.KeepOurs,
	}})
	resp, err = http.Post(ts.URL+"/conflicts/"+pending.ID, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case resolved := <-result:
		require.Len(t, resolved, 2)
		assert.Equal(t, conflict.TakeTheirs, resolved[0].Resolution)
		assert.Equal(t, conflict.KeepOurs, resolved[1].Resolution)
	case <-time.After(5 * time.Second):
		t.Fatal("resolution not delivered")
	}

	typ, _ = read(t, conn)
	assert.Equal(t, MessageTypeConflictClosed, typ)
	assert.Empty(t, c.Pending())

	resp, err = http.Post(ts.URL+"/conflicts/"+pending.ID, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "answered requests are gone")
}

func TestConflicts_CancelAndShutdown(t *testing.T) {
	rv := conflict.NewRendezvous()
	c := NewConflicts(rv, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	errs := make(chan error, 2)
	go func() {
		_, err := rv.Resolve(context.Background(), []conflict.MergeConflict{{Key: "k"}})
		errs <- err
	}()
	p := waitPending(t, c)
	assert.True(t, c.Answer(p.ID, Answer{Cancel: true}))
	assert.ErrorIs(t, <-errs, conflict.ErrResolutionCancelled)

	go func() {
		_, err := rv.Resolve(context.Background(), []conflict.MergeConflict{{Key: "k"}})
		errs <- err
	}()
	waitPending(t, c)
	cancel()
	<-done
	assert.ErrorIs(t, <-errs, conflict.ErrResolutionCancelled, "shutdown cancels pending merges")
}
