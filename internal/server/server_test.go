package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/geosocial/internal/config"
	"github.com/sakif/geosocial/internal/handler"
	"github.com/sakif/geosocial/internal/ratelimit"
	"github.com/sakif/geosocial/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Store.DSN = ":memory:"
	cfg.Auth.JWTSecret = "server-test-secret-0123"
	cfg.Auth.BcryptCost = 4
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.close)
	return s
}

func do(s *Server, method, path string, form url.Values, token string) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.TokenCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func tokenFrom(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.TokenCookie {
			return c.Value
		}
	}
	t.Fatalf("no %s cookie in response", session.TokenCookie)
	return ""
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	tests := []struct {
		name     string
		method   string
		path     string
		status   int
		location string
	}{
		{"home", http.MethodGet, "/", http.StatusOK, ""},
		{"login page", http.MethodGet, "/auth/login", http.StatusOK, ""},
		{"signup page", http.MethodGet, "/auth/signup", http.StatusOK, ""},
		{"health", http.MethodGet, "/healthz", http.StatusOK, ""},
		{"profile needs session", http.MethodGet, "/user/1", http.StatusSeeOther, handler.LoginPath},
		{"api needs session", http.MethodGet, "/api/posts/nearby?lat=0&lng=0", http.StatusUnauthorized, ""},
		{"github off", http.MethodGet, "/auth/github/login", http.StatusNotFound, ""},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, tt.method, tt.path, nil, "")
			assert.Equal(t, tt.status, rec.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
		})
	}
}

func TestPagesRenderHTML(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(s, http.MethodGet, "/auth/login", nil, "")

	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `action="/auth/login"`)
}

func TestSessionLifecycle_RedisRevocation(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	cfg.Auth.Revocation = "redis"
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.PerSecond = 10
	cfg.RateLimit.Burst = 10
	require.NoError(t, cfg.Validate())
	s := newTestServer(t, cfg)

	rec := do(s, http.MethodPost, "/auth/signup", url.Values{
		"username":    {"alice"},
		"password":    {"pw"},
		"email":       {"alice@example.com"},
		"displayName": {"Alice"},
	}, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/user/1", rec.Header().Get("Location"))
	token := tokenFrom(t, rec)

	rec = do(s, http.MethodGet, "/user/1", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice@example.com")

	rec = do(s, http.MethodPost, "/user/1", url.Values{"_method": {"PATCH"}, "displayName": {"Alice L"}}, token)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/1", rec.Header().Get("Location"))

	rec = do(s, http.MethodGet, "/auth/logout", nil, token)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	revoked := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "revoked:") {
			revoked++
		}
	}
	assert.Equal(t, 1, revoked)

	rec = do(s, http.MethodGet, "/user/1", nil, token)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, handler.LoginPath, rec.Header().Get("Location"))
}

func TestRedisDown_LimiterFailsOpenGuardFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()
	cfg.Auth.Revocation = "redis"
	cfg.RateLimit.Backend = "redis"
	s := newTestServer(t, cfg)

	rec := do(s, http.MethodPost, "/auth/signup", url.Values{
		"username":    {"alice"},
		"password":    {"pw"},
		"email":       {"alice@example.com"},
		"displayName": {"Alice"},
	}, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	token := tokenFrom(t, rec)

	mr.Close()

	rec = do(s, http.MethodPost, "/auth/login", url.Values{"username": {"alice"}, "password": {"pw"}}, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/1", rec.Header().Get("Location"))

	rec = do(s, http.MethodGet, "/user/1", nil, token)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, handler.LoginPath, rec.Header().Get("Location"))
}

// loginAttempts posts n failed logins, giving each a distinct
// X-Forwarded-For, and returns how many were throttled.
func loginAttempts(s *Server, n int) int {
	throttled := 0
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(url.Values{"username": {"alice"}, "password": {"guess"}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i, i))
		req.RemoteAddr = "192.0.2.7:4000"

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		for _, c := range rec.Result().Cookies() {
			if c.Name == session.MessageCookie && c.Value == url.QueryEscape(ratelimit.RejectMessage) {
				throttled++
			}
		}
	}
	return throttled
}

func TestLoginLimit_IgnoresForwardedHeadersByDefault(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	// Default bucket: burst 5, so the remaining 15 are throttled.
	assert.Equal(t, 15, loginAttempts(s, 20))
}

func TestLoginLimit_TrustedProxyKeysOnForwardedAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TrustProxyHeaders = true
	s := newTestServer(t, cfg)

	assert.Equal(t, 0, loginAttempts(s, 20))
}

func TestGitHubRoutesMounted(t *testing.T) {
	cfg := testConfig(t)
	cfg.GitHub.ClientID = "client-id"
	cfg.GitHub.ClientSecret = "client-secret"
	cfg.GitHub.CallbackURL = "http://localhost:8080/auth/github/callback"
	s := newTestServer(t, cfg)

	rec := do(s, http.MethodGet, "/auth/github/login", nil, "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "github.com/login/oauth/authorize")
}

func TestNew_BadStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "oracle"

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
