package dashboard

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profileboard/profileboard/internal/auth"
	"github.com/profileboard/profileboard/internal/config"
	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/flags"
	"github.com/profileboard/profileboard/internal/hub"
	"github.com/profileboard/profileboard/internal/profiler"
	"github.com/profileboard/profileboard/internal/storage"
	"github.com/profileboard/profileboard/internal/testutil"
)

type testEnv struct {
	server   *Server
	http     *httptest.Server
	store    *storage.Store
	hub      *hub.Hub
	flags    *flags.MemoryStore
	tokens   *auth.TokenStore
	viewerTk string
}

func newTestEnv(t *testing.T, connLimit ...ConnLimit) *testEnv {
	t.Helper()

	var limit ConnLimit
	if len(connLimit) > 0 {
		limit = connLimit[0]
	}

	logger := testutil.NewTestLogger(t)
	store := testutil.NewTestStore(t)
	broadcast := hub.New(logger)
	flagStore := flags.NewMemoryStore(map[string]bool{constants.ProfilerEnabledFlag: true})

	tokens := auth.NewTokenStore(filepath.Join(t.TempDir(), "tokens.yaml"))
	viewer, err := tokens.GenerateToken("viewer", []auth.Permission{auth.PermissionViewDashboard})
	require.NoError(t, err)

	server, err := New(Config{
		Dashboard:  config.DashboardConfig{},
		TokenStore: tokens,
		Flags:      flagStore,
		Store:      store,
		Hub:        broadcast,
		ConnLimit:  limit,
		Logger:     logger,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.limiter.Close()
	})

	return &testEnv{
		server:   server,
		http:     ts,
		store:    store,
		hub:      broadcast,
		flags:    flagStore,
		tokens:   tokens,
		viewerTk: viewer.Token,
	}
}

func (e *testEnv) wsURL(token string) string {
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + constants.DefaultDashboardPrefix + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func storedProfile(t *testing.T, e *testEnv, id string, ts time.Time) *profiler.Profile {
	t.Helper()
	p := &profiler.Profile{
		ID:         id,
		Timestamp:  ts,
		URL:        "/items/" + id,
		Method:     "GET",
		ViewName:   "items.detail",
		Duration:   0.2,
		StatusCode: 200,
		QueryCount: 1,
		QueryTime:  0.01,
		Queries: []profiler.QueryEvent{
			{SQL: "SELECT * FROM items WHERE id = ?", Params: []string{id}, Duration: 0.01, Timestamp: ts},
		},
	}
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, e.store.InsertProfile(ctx, p))
	return p
}

func TestLookbackTokens(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":     time.Minute,
		"5m":     5 * time.Minute,
		"30m":    30 * time.Minute,
		"1h":     time.Hour,
		"24h":    24 * time.Hour,
		"7d":     7 * 24 * time.Hour,
		"":       time.Hour,
		"bogus":  time.Hour,
		"90days": time.Hour,
	}
	for token, want := range cases {
		assert.Equal(t, want, lookback(token), "token %q", token)
	}
}

func TestHealthBypassesAuth(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.http.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthReportsStorageFailure(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.Close())

	resp, err := http.Get(e.http.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAnonymousSessionClosedUnauthorized(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, "")
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, constants.CloseUnauthorized), "got %v", err)
	assert.Equal(t, 0, e.hub.Len())
}

func TestInvalidTokenClosedUnauthorized(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, "pb_definitely-not-a-token")
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, constants.CloseUnauthorized), "got %v", err)
	assert.Equal(t, 0, e.hub.Len())
}

func TestMissingPermissionClosedForbidden(t *testing.T) {
	e := newTestEnv(t)

	toggler, err := e.tokens.GenerateToken("toggler", []auth.Permission{auth.PermissionToggleProfiler})
	require.NoError(t, err)

	conn := e.dial(t, toggler.Token)
	_, _, readErr := conn.ReadMessage()
	require.Error(t, readErr)
	assert.True(t, websocket.IsCloseError(readErr, constants.CloseForbidden), "got %v", readErr)
	assert.Equal(t, 0, e.hub.Len())
}

func TestBearerHeaderAuthorizes(t *testing.T) {
	e := newTestEnv(t)

	header := http.Header{"Authorization": []string{"Bearer " + e.viewerTk}}
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(""), header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	frame := readFrame(t, conn)
	assert.Equal(t, "initial_data", frame["type"])
}

func TestInitialDataSnapshot(t *testing.T) {
	e := newTestEnv(t)

	now := time.Now().UTC()
	storedProfile(t, e, "older", now.Add(-time.Minute))
	storedProfile(t, e, "newer", now)

	conn := e.dial(t, e.viewerTk)
	frame := readFrame(t, conn)

	require.Equal(t, "initial_data", frame["type"])

	recent, ok := frame["recent_requests"].([]interface{})
	require.True(t, ok)
	require.Len(t, recent, 2)
	first := recent[0].(map[string]interface{})
	assert.Equal(t, "newer", first["id"])

	stats, ok := frame["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), stats["total_requests"])

	assert.Equal(t, 1, e.hub.Len())
}

func TestProfileUpdateRelay(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	e.hub.Publish(&profiler.Profile{ID: "live-1", Timestamp: time.Now(), ViewName: "live.view"})

	frame := readFrame(t, conn)
	require.Equal(t, "profile_update", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, "live-1", data["id"])
}

func TestRequestHistoryFilters(t *testing.T) {
	e := newTestEnv(t)

	now := time.Now().UTC()
	storedProfile(t, e, "recent-ok", now)
	storedProfile(t, e, "too-old", now.Add(-10*time.Minute))

	failed := &profiler.Profile{
		ID: "recent-error", Timestamp: now, URL: "/fail", Method: "GET",
		ViewName: "items.fail", Duration: 0.4, StatusCode: 500, IsError: true,
	}
	sluggish := &profiler.Profile{
		ID: "recent-slow", Timestamp: now, URL: "/slow", Method: "GET",
		ViewName: "items.slow", Duration: 2.5, StatusCode: 200,
	}
	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, e.store.InsertProfile(ctx, failed))
	require.NoError(t, e.store.InsertProfile(ctx, sluggish))

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	t.Run("time range", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type":   "request_history",
			"params": map[string]interface{}{"time_range": "5m"},
		}))
		frame := readFrame(t, conn)
		require.Equal(t, "request_history", frame["type"])
		requests := frame["requests"].([]interface{})
		assert.Len(t, requests, 3)
		stats := frame["stats"].(map[string]interface{})
		assert.Equal(t, float64(3), stats["total_requests"])
	})

	t.Run("error status", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type":   "request_history",
			"params": map[string]interface{}{"time_range": "1h", "status": "error"},
		}))
		frame := readFrame(t, conn)
		requests := frame["requests"].([]interface{})
		require.Len(t, requests, 1)
		assert.Equal(t, "recent-error", requests[0].(map[string]interface{})["id"])
	})

	t.Run("slow status with default threshold", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type":   "request_history",
			"params": map[string]interface{}{"time_range": "1h", "status": "slow"},
		}))
		frame := readFrame(t, conn)
		requests := frame["requests"].([]interface{})
		require.Len(t, requests, 1)
		assert.Equal(t, "recent-slow", requests[0].(map[string]interface{})["id"])
	})

	t.Run("view name substring", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type":   "request_history",
			"params": map[string]interface{}{"time_range": "1h", "view_name": "fail"},
		}))
		frame := readFrame(t, conn)
		requests := frame["requests"].([]interface{})
		require.Len(t, requests, 1)
		assert.Equal(t, "recent-error", requests[0].(map[string]interface{})["id"])
	})
}

func TestRequestDetails(t *testing.T) {
	e := newTestEnv(t)
	storedProfile(t, e, "detailed", time.Now().UTC())

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "request_details",
		"request_id": "detailed",
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "request_details", frame["type"])

	details := frame["details"].(map[string]interface{})
	assert.Equal(t, "detailed", details["id"])

	queries := details["queries"].([]interface{})
	require.Len(t, queries, 1)

	analysis := details["analysis"].(map[string]interface{})
	assert.Equal(t, float64(1), analysis["total_queries"])
}

func TestRequestDetailsNotFoundKeepsSessionOpen(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":       "request_details",
		"request_id": "missing",
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "not found")

	// Session still serves subsequent requests.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "toggle_profiler",
		"enabled": true,
	}))
	frame = readFrame(t, conn)
	assert.Equal(t, "profiler_toggled", frame["type"])
}

func TestToggleProfiler(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "toggle_profiler",
		"enabled": false,
	}))

	frame := readFrame(t, conn)
	require.Equal(t, "profiler_toggled", frame["type"])
	assert.Equal(t, false, frame["enabled"])
	assert.False(t, e.flags.Enabled(constants.ProfilerEnabledFlag))
}

func TestMalformedFrameNonFatal(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "no_such_op"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])

	// Still active.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "request_history",
		"params": map[string]interface{}{"time_range": "1h"},
	}))
	frame = readFrame(t, conn)
	assert.Equal(t, "request_history", frame["type"])
}

func TestDisconnectUnsubscribes(t *testing.T) {
	e := newTestEnv(t)

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data
	require.Equal(t, 1, e.hub.Len())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return e.hub.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWriterFailureUnblocksSend(t *testing.T) {
	e := newTestEnv(t)

	serverConns := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	defer ts.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)

	sess := newSession(<-serverConns, e.server)
	go sess.writeLoop()

	// Drop the transport without a close handshake so the writer fails.
	require.NoError(t, client.UnderlyingConn().Close())

	// Overfill the outbox. Once the writer dies it must tear the session
	// down instead of leaving the buffered messages stranded.
	for i := 0; i < constants.DefaultSessionBuffer*2; i++ {
		sess.Deliver(&profiler.Profile{ID: "flood", Timestamp: time.Now()})
	}

	sent := make(chan struct{})
	go func() {
		sess.send(errorReply("late reply"))
		close(sent)
	}()

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("send blocked after writer shutdown")
	}
}

func TestConnLimiter(t *testing.T) {
	limiter := NewConnLimiter(ConnLimit{Attempts: 2, Window: time.Minute})
	defer limiter.Close()

	assert.True(t, limiter.Allow("key"))
	assert.True(t, limiter.Allow("key"))
	assert.False(t, limiter.Allow("key"))
	assert.True(t, limiter.Allow("other"))
}

func TestConnLimiterRejection(t *testing.T) {
	e := newTestEnv(t, ConnLimit{Attempts: 1, Window: time.Minute})

	conn := e.dial(t, e.viewerTk)
	readFrame(t, conn) // initial_data

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(e.viewerTk), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
