package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/komek/internal/metrics"
	"github.com/hitoshi/komek/internal/middleware"
	"github.com/hitoshi/komek/internal/model"
)

type routerSessionFinder struct {
	sessions map[string]*model.Session
}

func (f *routerSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return f.sessions[id], nil
}

type routerTokenLookup struct {
	tokens map[string]string
}

func (l *routerTokenLookup) Lookup(token string) (string, bool) {
	userID, ok := l.tokens[token]
	return userID, ok
}

type routerUserFinder struct {
	users map[string]*model.User
}

func (f *routerUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	return f.users[id], nil
}

// newTestRouterDeps は本番と同じ構成の依存関係一式を組み立てる。
func newTestRouterDeps(t *testing.T) *RouterDeps {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	return &RouterDeps{
		AuthService: &mockAuthService{},
		AuthConfig:  testHandlerConfig(),
		SessionFinder: &routerSessionFinder{sessions: map[string]*model.Session{
			"session-1": {ID: "session-1", UserID: "user-1"},
		}},
		TokenLookup: &routerTokenLookup{tokens: map[string]string{
			"app-token-1": "user-1",
		}},
		UserFinder: &routerUserFinder{users: map[string]*model.User{
			"user-1": {ID: "user-1", Email: "taro@example.com", FirstName: "Taro"},
		}},
		Metrics:  collector,
		Gatherer: reg,
	}
}

// newTestRouter は本番と同じミドルウェアチェーンを持つルーターを組み立てる。
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return NewRouter(newTestRouterDeps(t))
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Timestamp == "" {
		t.Error("timestamp should be populated")
	}
}

func TestRouter_MeViaSessionCookie(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-1"})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via session cookie", w.Code)
	}
	if !strings.Contains(w.Body.String(), "taro@example.com") {
		t.Errorf("body = %s, want the resolved user", w.Body.String())
	}
}

func TestRouter_MeViaBearerToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer app-token-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via bearer token", w.Code)
	}
}

func TestRouter_MeAnonymous(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for anonymous /auth/me", w.Code)
	}
}

func TestRouter_LogoutRequiresCSRFForCookieClients(t *testing.T) {
	router := newTestRouter(t)

	// CookieクライアントのPOSTはCSRFトークンなしでは拒否される
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-1"})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without CSRF token", w.Code)
	}

	// 一致するトークンがあれば通る
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-1"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "csrf-1"})
	req.Header.Set("X-CSRF-Token", "csrf-1")
	w = httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with matching CSRF token", w.Code)
	}
}

func TestRouter_LogoutWithBearerSkipsCSRF(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer app-token-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for bearer logout", w.Code)
	}
}

func TestRouter_LoginFlowRedirects(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/google", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
}

func TestRouter_AppRedirectRoute(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/app-redirect?token=tok", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	if got := w.Header().Get("Location"); got != "komek://login?token=tok" {
		t.Errorf("Location = %q", got)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	// 一度リクエストを通してステータスメトリクスを記録させる
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "komek_http_status_total") {
		t.Error("metrics output should contain komek_http_status_total")
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_RequestLogIncludesUserID(t *testing.T) {
	deps := newTestRouterDeps(t)
	var buf bytes.Buffer
	deps.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-1"})
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// Authenticateがログの外側にあるので、認証済みユーザーIDがログに載る
	if !strings.Contains(buf.String(), `"user_id":"user-1"`) {
		t.Errorf("request log = %s, want user_id for authenticated request", buf.String())
	}
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

var _ middleware.SessionFinder = (*routerSessionFinder)(nil)
var _ middleware.TokenLookup = (*routerTokenLookup)(nil)
var _ middleware.UserFinder = (*routerUserFinder)(nil)
