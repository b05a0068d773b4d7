package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/relayclaw/internal/domain/news"
)

type staticWatches []news.ChannelWatch

func (s staticWatches) Watches() []news.ChannelWatch { return s }

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, NewRouter(zerolog.Nop(), nil, nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	ready := false
	checks := []Check{
		{Name: "store", Fn: PingCheck(mockPinger{})},
		{Name: "news", Fn: ReadyCheck(func() bool { return ready }, "target unresolved")},
	}
	h := NewRouter(zerolog.Nop(), nil, checks)

	rec := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.True(t, resp.Checks["store"].OK)
	assert.Equal(t, "target unresolved", resp.Checks["news"].Message)

	ready = true
	rec = get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_PingFailure(t *testing.T) {
	h := NewRouter(zerolog.Nop(), nil, []Check{{Name: "redis", Fn: PingCheck(mockPinger{err: errors.New("refused")})}})
	rec := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ping failed: refused")
}

func TestWatches(t *testing.T) {
	src := staticWatches{
		{ChannelRef: "-100001", DisplayName: "Watcher Guru", LastSeen: "42"},
		{ChannelRef: "-100002", DisplayName: "Tree News"},
	}
	rec := get(t, NewRouter(zerolog.Nop(), src, nil), "/watches")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"channel_ref":"-100001","display_name":"Watcher Guru","last_seen":"42"},
		{"channel_ref":"-100002","display_name":"Tree News"}
	]`, rec.Body.String())

	rec = get(t, NewRouter(zerolog.Nop(), nil, nil), "/watches")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(zerolog.Nop(), nil, nil)
	get(t, h, "/health")

	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relayclaw_http_requests_total")
}

func TestOllamaCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"version":"0.6.0"}`))
	}))
	defer server.Close()

	ok, msg := OllamaCheck(server.URL+"/", time.Second)(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "ok", msg)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	ok, msg = OllamaCheck(failing.URL, time.Second)(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "status 500", msg)
}

func TestOllamaCheck_Unreachable(t *testing.T) {
	ok, msg := OllamaCheck("http://127.0.0.1:1", 500*time.Millisecond)(context.Background())
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(msg, "unreachable"), msg)
}

func TestServer_ShutdownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ln.Addr().String(), NewRouter(zerolog.Nop(), nil, nil), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
