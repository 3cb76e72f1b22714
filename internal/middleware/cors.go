package middleware

import (
	"net/http"
	"regexp"
)

// localhostOriginPattern は開発時に許可するlocalhostオリジン。
// ネイティブアプリ（Flutter等）のリクエストはOriginヘッダーを持たないため
// CORSの対象外で、ここには関係しない。
var localhostOriginPattern = regexp.MustCompile(`^https?://localhost(:\d+)?$`)

// CORSConfig はCORSミドルウェアの設定。
type CORSConfig struct {
	AllowedOrigin string // フロントエンドのオリジン
	BackendOrigin string // バックエンド自身のオリジン（OAuthリダイレクト経由のリクエスト用）
	Production    bool   // falseの場合は任意のlocalhostオリジンも許可する
}

// NewCORSMiddleware はCORSミドルウェアを返す。
// credentials送信と共存するため、ワイルドカード(*)は使用せず
// 許可したオリジンをそのままエコーする。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(config CORSConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed := config.allowOrigin(origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			// OPTIONSプリフライトリクエストには204で応答
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin は許可するオリジンを返す。許可しない場合は空文字。
func (c CORSConfig) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if origin == c.AllowedOrigin || (c.BackendOrigin != "" && origin == c.BackendOrigin) {
		return origin
	}
	if !c.Production && localhostOriginPattern.MatchString(origin) {
		return origin
	}
	return ""
}
