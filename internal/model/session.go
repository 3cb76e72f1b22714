// Package model はドメインモデルを定義する。
package model

import "time"

// Session はユーザーのログインセッションを表す。
// UserIDはログイン前のセッションでは空になりうる。
// IsAdminは管理コンソール用のフラグで、通常の認証フローでは使用しない。
type Session struct {
	ID        string
	UserID    string
	IsAdmin   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}
