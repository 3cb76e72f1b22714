// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/komek/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに現在のユーザーを格納するためのキー。
var userContextKey = contextKey("current_user")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// TokenLookup はBearerトークンの検索に必要なインターフェース。
// 認証に必要なのは有効トークンの一致可否のみで、期限切れと未登録は区別しない。
type TokenLookup interface {
	Lookup(token string) (userID string, ok bool)
}

// UserFinder はユーザーレコードの取得に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAuthenticator は各リクエストの呼び出し元の身元を解決するミドルウェアを返す。
// セッションCookieを優先し、無ければAuthorizationヘッダーのBearerトークンを
// トークンストアに照合する。解決できた場合のみユーザーをコンテキストに注入する。
// このレイヤーではリクエストを拒否しない: 認可の判断は各ルートの責務。
// ストレージエラーもログに記録して匿名として通過させる。
// verboseは本番以外での診断ログを有効にする。
func NewAuthenticator(sessions SessionFinder, tokens TokenLookup, users UserFinder, verbose bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. セッションCookieから解決を試みる
			if user := userFromSession(r, sessions, users); user != nil {
				next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
				return
			}

			// 2. Bearerトークンから解決を試みる
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			tok := strings.TrimPrefix(authHeader, "Bearer ")

			userID, ok := tokens.Lookup(tok)
			if !ok {
				// 期限切れ・未登録のトークンは資格情報なしと同じ扱い
				if verbose {
					slog.Debug("bearer token rejected",
						slog.String("path", r.URL.Path),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to load user for bearer token",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			if verbose {
				slog.Debug("request authenticated via bearer token",
					slog.String("user_id", user.ID),
					slog.String("path", r.URL.Path),
				)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// userFromSession はセッションCookie経由でユーザーを解決する。解決できない場合はnil。
func userFromSession(r *http.Request, sessions SessionFinder, users UserFinder) *model.User {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, err := sessions.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if session == nil || session.UserID == "" {
		return nil
	}

	user, err := users.FindByID(r.Context(), session.UserID)
	if err != nil {
		slog.Error("failed to load user for session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return user
}

// UserFromContext はリクエストコンテキストから現在のユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// ContextWithUser はコンテキストに現在のユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
