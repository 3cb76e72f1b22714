// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/komek/internal/auth"
	"github.com/hitoshi/komek/internal/middleware"
	"github.com/hitoshi/komek/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	OAuthConfigured() bool
	LoginURL(state string, flavor auth.Flavor) string
	HandleWebCallback(ctx context.Context, code string) (*model.Session, error)
	HandleAppCallback(ctx context.Context, code string) (token string, err error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL       string // リダイレクト先のフロントエンドURL
	AppRedirectScheme string // ネイティブクライアントのカスタムURIスキーム
	AppRedirectWebURL string // 疑似ネイティブ（ウェブ）クライアント向けのフォールバックURL
	CookieDomain      string
	CookieSecure      bool
	SessionMaxAge     int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はGoogle OAuthフローを開始する。?app=1でアプリフレーバーになる。
// プロバイダーが未設定の場合はエラー指示子付きでフロントエンドへリダイレクトし、
// プロバイダーへのリクエストは発行しない。
// GET /auth/google?app=1
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthConfigured() {
		h.redirectWithError(w, r, model.RedirectErrOAuthNotConfigured)
		return
	}

	flavor := auth.FlavorWeb
	if r.URL.Query().Get("app") == "1" {
		flavor = auth.FlavorApp
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		h.redirectWithError(w, r, model.RedirectErrAuthFailed)
		return
	}

	// stateをCookieに保存（CSRF対策）。コールバック時に検証する。
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.LoginURL(state, flavor), http.StatusTemporaryRedirect)
}

// WebCallback はウェブフレーバーのOAuthコールバックを処理する。
// 成功時はセッションCookieを設定してフロントエンドへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) WebCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthConfigured() {
		h.redirectWithError(w, r, model.RedirectErrOAuthNotConfigured)
		return
	}

	code, ok := h.verifyCallback(w, r)
	if !ok {
		return
	}

	session, err := h.service.HandleWebCallback(r.Context(), code)
	if err != nil {
		slog.Error("web oauth callback failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, model.RedirectErrAuthFailed)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.FrontendURL+"/?logged=1", http.StatusTemporaryRedirect)
}

// AppCallback はアプリフレーバーのOAuthコールバックを処理する。
// 成功時はアプリトークンを発行し、app-redirectステップへリダイレクトする。
// セッションは確立しない。
// GET /auth/google/callback/app?code=xxx&state=yyy
func (h *AuthHandler) AppCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthConfigured() {
		h.redirectWithError(w, r, model.RedirectErrOAuthNotConfigured)
		return
	}

	code, ok := h.verifyCallback(w, r)
	if !ok {
		return
	}

	token, err := h.service.HandleAppCallback(r.Context(), code)
	if err != nil {
		slog.Error("app oauth callback failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, model.RedirectErrAuthFailed)
		return
	}

	http.Redirect(w, r, "/auth/app-redirect?token="+url.QueryEscape(token), http.StatusTemporaryRedirect)
}

// AppRedirect は発行済みのアプリトークンをクライアントへ引き渡す。
// ウェブフォールバックURLが設定されている場合はフラグメント経由で、
// なければカスタムURIスキーム経由でトークンを渡す。
// GET /auth/app-redirect?token=xxx
func (h *AuthHandler) AppRedirect(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		h.redirectWithError(w, r, model.RedirectErrMissingToken)
		return
	}

	if h.config.AppRedirectWebURL != "" {
		base := strings.TrimSuffix(h.config.AppRedirectWebURL, "/")
		http.Redirect(w, r, fmt.Sprintf("%s/#/login?token=%s", base, url.QueryEscape(token)), http.StatusTemporaryRedirect)
		return
	}

	appURL := fmt.Sprintf("%s://login?token=%s", h.config.AppRedirectScheme, url.QueryEscape(token))
	http.Redirect(w, r, appURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// セッションストアの削除失敗はログアウト失敗として呼び出し元へ返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewLogoutFailedError())
			return
		}
	}

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// meResponse は/auth/meのユーザー表現。
type meResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Picture   *string    `json:"picture"` // 旧クライアント互換のためavatarと同値
	Avatar    *string    `json:"avatar"`
	CreatedAt *time.Time `json:"createdAt"`
}

// Me は現在のログインユーザー情報を返す。
// セッション・Bearerトークンのどちらで認証したかは問わない。
// 未認証の場合は401と{"user":null}を返す（エラーページではない）。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"user": nil})
		return
	}

	resp := meResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.DisplayName(),
	}
	if avatar := user.AvatarURL(); avatar != "" {
		resp.Picture = &avatar
		resp.Avatar = &avatar
	}
	if !user.CreatedAt.IsZero() {
		created := user.CreatedAt
		resp.CreatedAt = &created
	}

	json.NewEncoder(w).Encode(map[string]meResponse{"user": resp})
}

// verifyCallback はstateの検証と認可コードの取得を行う。
// 検証に失敗した場合はエラー指示子付きでリダイレクト済みとしてfalseを返す。
func (h *AuthHandler) verifyCallback(w http.ResponseWriter, r *http.Request) (code string, ok bool) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("path", r.URL.Path))
		h.redirectWithError(w, r, model.RedirectErrAuthFailed)
		return "", false
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code = r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, model.RedirectErrAuthFailed)
		return "", false
	}

	return code, true
}

// redirectWithError はエラー指示子付きでフロントエンドへリダイレクトする。
// OAuthフローの失敗は生のエラーページではなく、常にこの形式で返す。
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, indicator string) {
	http.Redirect(w, r, h.config.FrontendURL+"/?error="+url.QueryEscape(indicator), http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
