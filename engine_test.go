package wsecho

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/wsecho/middleware"
	pkgerrors "github.com/tokmz/wsecho/pkg/errors"
	"github.com/tokmz/wsecho/pkg/logger"
	"github.com/tokmz/wsecho/pkg/store"
	"github.com/tokmz/wsecho/pkg/ws"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.Store.Type = store.SQLite
	cfg.Store.DSN = "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	cfg.Store.LogLevel = 1
	cfg.Shutdown.Timeout = 2 * time.Second
	return cfg
}

func newEngine(t *testing.T, cfg *Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	return e
}

// startEngine 完成存储初始化并用 httptest 提供服务
func startEngine(t *testing.T, cfg *Config, opts ...Option) (*Engine, *httptest.Server) {
	t.Helper()
	e := newEngine(t, cfg, opts...)
	require.NoError(t, e.WS().OnStart(context.Background()))

	ts := httptest.NewServer(e.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
		ts.Close()
	})
	return e, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	d := DefaultConfig()
	assert.Equal(t, d.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, d.WS.MaxConnections, cfg.WS.MaxConnections)
	assert.Equal(t, d.WS.HeartbeatInterval, cfg.WS.HeartbeatInterval)
	assert.Equal(t, d.Store.Type, cfg.Store.Type)
	assert.False(t, cfg.Cache.Enabled)
	assert.Nil(t, cfg.Server.HandshakeLimit)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsecho.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  handshake_limit:
    requests_per_second: 5
    burst: 10
shutdown:
  timeout: 3s
ws:
  max_connections: 42
  policy: echo
  heartbeat_interval: 5s
store:
  type: sqlite
  dsn: "file::memory:"
cache:
  enabled: true
  driver: memory
  default_ttl: 2s
log:
  level: debug
`), 0o644))
	t.Setenv("WSECHO_WS_SEED_COUNT", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	require.NotNil(t, cfg.Server.HandshakeLimit)
	assert.Equal(t, 10, cfg.Server.HandshakeLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.Shutdown.Timeout)
	assert.Equal(t, 42, cfg.WS.MaxConnections)
	assert.Equal(t, ws.PolicyEcho, cfg.WS.PolicyName)
	assert.Equal(t, 5*time.Second, cfg.WS.HeartbeatInterval)
	// 未写入文件的字段保留默认值
	assert.Equal(t, ws.DefaultConfig().HeartbeatTimeout, cfg.WS.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.WS.SeedCount)
	assert.Equal(t, store.SQLite, cfg.Store.Type)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Cache.DefaultTTL)
	assert.NotNil(t, cfg.Cache.Serializer)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLogConfigBuild(t *testing.T) {
	log, err := (&LogConfig{Level: "warn", Format: "console", Console: true}).Build()
	require.NoError(t, err)
	assert.Equal(t, logger.WarnLevel, log.Level())

	_, err = (&LogConfig{Level: "loud"}).Build()
	assert.Error(t, err)
	_, err = (&LogConfig{Level: "info", Format: "xml"}).Build()
	assert.Error(t, err)
}

func TestWatchLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsecho.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	log, err := (&LogConfig{Level: "info", Console: true}).Build()
	require.NoError(t, err)

	stop, err := WatchLogLevel(path, log)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	assert.Eventually(t, func() bool {
		return log.Level() == logger.DebugLevel
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEngineEcho(t *testing.T) {
	_, ts := startEngine(t, testConfig(t))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", string(got))

	status, body := getJSON(t, ts.URL+"/stats")
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	conns := data["connections"].([]any)
	require.Len(t, conns, 1)
	assert.Equal(t, "open", conns[0].(map[string]any)["state"])
	stats := data["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["messages_received"])

	status, body = getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["data"].(map[string]any)["status"])
}

func TestEngineCachedCount(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	e, ts := startEngine(t, cfg)

	_, ok := e.gateway.(*store.CachedGateway)
	require.True(t, ok)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
		_, got, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "Echo: x", string(got))
	}
	assert.Zero(t, e.WS().Stats().StoreFailures)
}

func TestEngineHealthNotReady(t *testing.T) {
	e := newEngine(t, testConfig(t))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	ts := httptest.NewServer(e.Handler())
	defer ts.Close()

	status, body := getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.EqualValues(t, pkgerrors.CodeOf(ws.ErrNotReady), body["code"])

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// failingGateway 建表失败
type failingGateway struct{ closed bool }

func (g *failingGateway) EnsureSchema(context.Context) error { return errors.New("disk full") }

func (g *failingGateway) Seed(context.Context, int) error { return nil }

func (g *failingGateway) CountRecords(context.Context) (int64, error) { return 0, nil }

func (g *failingGateway) Ping(context.Context) error { return nil }

func (g *failingGateway) Close() error {
	g.closed = true
	return nil
}

func TestEngineRunInitFailure(t *testing.T) {
	gw := &failingGateway{}
	e := newEngine(t, testConfig(t), WithGateway(gw))

	err := e.Run(context.Background(), "127.0.0.1:0")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, ws.ErrStartupInitFailed))
	assert.True(t, gw.closed)
}

func TestEngineServeGracefulShutdown(t *testing.T) {
	e := newEngine(t, testConfig(t))
	require.NoError(t, e.WS().OnStart(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.WS().Registry().Count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.Equal(t, 0, e.WS().Registry().Count())
}

func TestEngineHandshakeLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HandshakeLimit = &middleware.RateLimiterConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
		BucketExpiry:      time.Minute,
	}
	_, ts := startEngine(t, cfg)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestFail(t *testing.T) {
	status, resp := Fail(ws.ErrCapacityExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, pkgerrors.CodeOf(ws.ErrCapacityExceeded), resp.Code)

	status, resp = Fail(errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, pkgerrors.ErrServer.Code, resp.Code)
	assert.Contains(t, resp.Message, "plain")
}
