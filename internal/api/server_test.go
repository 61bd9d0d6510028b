package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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

	"github.com/j-veylop/antigravity-quota-monitor/internal/config"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services/quota"
)

const testAccounts = `{
	"version": 3,
	"accounts": [
		{"email": "alice@example.com", "refreshToken": "rt-a", "projectId": "proj-a"},
		{"email": "bob@example.com", "refreshToken": "rt-b"}
	],
	"activeIndex": 0
}`

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, v any) *http.Response {
	body, _ := json.Marshal(v)
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body))}
}

func upstreamClient() *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() == quota.GoogleOAuthURL {
			return jsonResponse(200, map[string]any{"access_token": "at", "expires_in": 3600}), nil
		}
		return jsonResponse(200, map[string]any{"models": map[string]any{
			"claude-sonnet-4-5": map[string]any{"quotaInfo": map[string]any{"remainingFraction": 0.42}},
		}}), nil
	})}
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		AccountsPath:       filepath.Join(dir, "antigravity-accounts.json"),
		GoogleClientID:     "id",
		GoogleClientSecret: "secret",
		QuotaPollInterval:  time.Hour,
	}
	require.NoError(t, os.WriteFile(cfg.AccountsPath, []byte(testAccounts), 0o600))
	for _, fn := range mutate {
		fn(cfg)
	}

	mgr, err := services.NewManager(cfg,
		services.WithHTTPClient(upstreamClient()),
		services.WithMetrics(metrics.NewMetrics("aqm_api_test")),
	)
	require.NoError(t, err)

	server := NewServer(cfg, mgr)
	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
		_ = mgr.Close()
	})
	return server, cfg
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(server, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 2, resp["accounts"])
	assert.Equal(t, "al***@example.com", resp["active"])
	assert.Equal(t, false, resp["polling"])
	assert.NotZero(t, resp["timestamp"])
}

func TestHandleAccounts(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(server, http.MethodGet, "/api/accounts", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var accs []models.EnrichedAccount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accs))
	require.Len(t, accs, 2)
	assert.Equal(t, "al***@example.com", accs[0].Email)
	assert.True(t, accs[0].IsActive)
	assert.Nil(t, accs[0].Quota)
	assert.NotContains(t, w.Body.String(), "alice@example.com")
	assert.NotContains(t, w.Body.String(), "rt-a")
}

func TestHandleRefresh(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(server, http.MethodPost, "/api/accounts/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var accs []models.EnrichedAccount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accs))
	require.Len(t, accs, 2)
	require.NotNil(t, accs[1].Quota)
	assert.Equal(t, 42, *accs[1].Quota.ClaudeQuotaPercent)
	assert.Equal(t, "bo***@example.com", accs[1].Quota.Email)
}

func TestHandleRefresh_ClientGone(t *testing.T) {
	server, _ := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/refresh", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var accs []models.EnrichedAccount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accs))
	require.Len(t, accs, 2)
	for _, acc := range accs {
		require.NotNil(t, acc.Quota)
		assert.Empty(t, acc.Quota.FetchError)
	}
}

func TestActiveAccountNotWritableOverHTTP(t *testing.T) {
	server, cfg := setupTestServer(t)

	before, err := os.ReadFile(cfg.AccountsPath)
	require.NoError(t, err)

	for _, contentType := range []string{"application/json", "text/plain"} {
		t.Run(contentType, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/accounts/active",
				strings.NewReader(`{"email":"bob@example.com"}`))
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Origin", "http://evil.example")
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}

	after, err := os.ReadFile(cfg.AccountsPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	w := doRequest(server, http.MethodGet, "/api/accounts", "")
	var accs []models.EnrichedAccount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accs))
	assert.True(t, accs[0].IsActive)
	assert.False(t, accs[1].IsActive)
}

func TestCorrelationID(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(server, http.MethodGet, "/api/health", "")
	assert.NotEmpty(t, w.Header().Get(correlationHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(correlationHeader, "abc-123")
	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(correlationHeader))
}

func TestCORS(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	restricted, _ := setupTestServer(t, func(c *config.Config) {
		c.CORSOrigins = []string{"http://allowed.local"}
	})
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://other.local")
	w = httptest.NewRecorder()
	restricted.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	doRequest(server, http.MethodGet, "/api/health", "")
	w := doRequest(server, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `aqm_api_test_http_requests_total{endpoint="/api/health",method="GET",status="200"} 1`)
}

func TestNoRoute(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(server, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(server, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticFallback(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o600))

	server, _ := setupTestServer(t, func(c *config.Config) { c.StaticDir = static })

	w := doRequest(server, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = doRequest(server, http.MethodGet, "/accounts/settings", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "app</html>")

	w = doRequest(server, http.MethodGet, "/../../etc/passwd", "")
	assert.NotContains(t, w.Body.String(), "root:")

	w = doRequest(server, http.MethodGet, "/api/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func readUpdate(t *testing.T, conn *websocket.Conn) models.Update {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var u models.Update
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

func TestWebSocket(t *testing.T) {
	server, _ := setupTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = resp.Body.Close()

	initial := readUpdate(t, conn)
	assert.Equal(t, models.UpdateInitial, initial.Type)
	assert.Len(t, initial.Accounts, 2)

	require.Eventually(t, func() bool { return server.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)

	doRequest(server, http.MethodPost, "/api/accounts/refresh", "")

	update := readUpdate(t, conn)
	assert.Equal(t, models.UpdateChanged, update.Type)
	require.Len(t, update.Accounts, 2)
	require.NotNil(t, update.Accounts[0].Quota)
	assert.Equal(t, 42, *update.Accounts[0].Quota.ClaudeQuotaPercent)
}

func TestWebSocket_ClientDisconnect(t *testing.T) {
	server, _ := setupTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	readUpdate(t, conn)

	require.Eventually(t, func() bool { return server.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return server.Hub().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := &client{hub: hub, send: make(chan []byte, 1)}
	slow.id[0] = 1
	hub.clients[slow.id] = slow

	hub.Broadcast(models.Update{Type: models.UpdateChanged})
	assert.Equal(t, 1, hub.Count())

	hub.Broadcast(models.Update{Type: models.UpdateChanged})
	assert.Equal(t, 0, hub.Count())

	_, ok := <-slow.send
	assert.True(t, ok, "buffered message remains readable")
	_, ok = <-slow.send
	assert.False(t, ok, "send channel closed after drop")
}

func TestHub_CheckOrigin(t *testing.T) {
	open := NewHub(nil, nil)
	restricted := NewHub([]string{"http://allowed.local"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://other.local")

	assert.True(t, open.upgrader.CheckOrigin(req))
	assert.False(t, restricted.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://allowed.local")
	assert.True(t, restricted.upgrader.CheckOrigin(req))
}
