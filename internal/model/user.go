// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はプラットフォーム利用者（クライアントまたはスペシャリスト）を表す。
// IDは作成時に一度だけ割り当てられ、以後変更されない。
// EmailとProviderIDは空文字の場合もあるが、非空の場合はそれぞれ一意。
type User struct {
	ID             string
	AccountID      string // 人間可読なアカウントID（例: ACC-1A2B3C4D）
	Email          string
	FirstName      string
	LastName       string
	ProviderID     string // 外部OAuth IdPのユーザーID
	ProviderAvatar string // IdPから取得したアバターURL
	Avatar         string // ユーザーがアップロードしたアバターへの参照
	IsSpecialist   bool
	IsAdmin        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName は表示名を組み立てる。
// first/lastが両方空の場合はメールのローカル部、それも無ければ"User"を返す。
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	return "User"
}

// AvatarURL はレスポンスに含めるアバターURLを返す。
// アップロード済みアバターを優先し、無ければIdPのアバターにフォールバックする。
func (u *User) AvatarURL() string {
	if u.Avatar != "" {
		if strings.HasPrefix(u.Avatar, "http") {
			return u.Avatar
		}
		parts := strings.Split(u.Avatar, "/")
		return "/uploads/avatars/" + parts[len(parts)-1]
	}
	return u.ProviderAvatar
}
