// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeLogoutFailed = "LOGOUT_FAILED"
)

// リダイレクトのクエリパラメータに載せるエラー指示子。
// フロントエンドは ?error=<値> を見てエラーメッセージを表示する。
const (
	RedirectErrOAuthNotConfigured = "oauth_not_configured"
	RedirectErrAuthFailed         = "auth_failed"
	RedirectErrMissingToken       = "missing_token"
)

// NewLogoutFailedError はセッション破棄失敗エラーを生成する。
// セッションストアの破損を示すため、呼び出し元にそのまま返す。
func NewLogoutFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLogoutFailed,
		Message:  "ログアウト処理に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

