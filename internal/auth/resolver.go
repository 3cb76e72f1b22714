package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/komek/internal/model"
	"github.com/hitoshi/komek/internal/repository"
)

// ProviderProfile はOAuthプロバイダーから取得したプロフィールを表す。
type ProviderProfile struct {
	ProviderUserID string
	Email          string
	DisplayName    string
	Picture        string
}

// Resolver はプロバイダープロフィールをローカルのユーザーレコードに解決する。
// 解決順序: (a) provider ID完全一致 (b) メール完全一致（provider IDをバックフィル）
// (c) 新規作成。同一プロフィールでの再実行は同じユーザーを返す（冪等）。
type Resolver struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(users repository.UserRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{users: users, logger: logger}
}

// Resolve はプロフィールに対応するユーザーを検索または作成して返す。
func (r *Resolver) Resolve(ctx context.Context, profile *ProviderProfile) (*model.User, error) {
	// 1. provider IDで既存ユーザーを検索
	user, err := r.users.FindByProviderID(ctx, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider ID: %w", err)
	}
	if user != nil {
		// アバターが変わっていれば更新して返す
		if profile.Picture != "" && user.ProviderAvatar != profile.Picture {
			updated, err := r.users.UpdateProviderAvatar(ctx, user.ID, profile.Picture)
			if err != nil {
				return nil, fmt.Errorf("failed to refresh provider avatar: %w", err)
			}
			return updated, nil
		}
		return user, nil
	}

	// 2. メールで既存ユーザーを検索し、provider IDをバックフィル
	if profile.Email != "" {
		user, err = r.users.FindByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if user != nil {
			linked, err := r.users.LinkProvider(ctx, user.ID, profile.ProviderUserID, profile.Picture)
			if err != nil {
				return nil, fmt.Errorf("failed to backfill provider ID: %w", err)
			}
			r.logger.Info("provider ID backfilled onto existing user",
				slog.String("user_id", linked.ID),
			)
			return linked, nil
		}
	}

	// 3. 新規ユーザーを作成
	firstName, lastName := splitDisplayName(profile.DisplayName, profile.Email)

	accountID, err := generateAccountID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate account ID: %w", err)
	}

	now := time.Now()
	newUser := &model.User{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		Email:          profile.Email,
		FirstName:      firstName,
		LastName:       lastName,
		ProviderID:     profile.ProviderUserID,
		ProviderAvatar: profile.Picture,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.users.Create(ctx, newUser); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("new user created from provider profile",
		slog.String("user_id", newUser.ID),
		slog.String("account_id", newUser.AccountID),
		slog.String("email", newUser.Email),
	)

	return newUser, nil
}

// splitDisplayName は表示名を空白で分割してfirst/lastに振り分ける。
// 表示名が無い場合はメールのローカル部、それも無ければ"User"を使う。
func splitDisplayName(displayName, email string) (firstName, lastName string) {
	trimmed := strings.TrimSpace(displayName)
	if trimmed != "" {
		parts := strings.Fields(trimmed)
		firstName = parts[0]
		lastName = strings.Join(parts[1:], " ")
		return firstName, lastName
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at], ""
	}
	return "User", ""
}

// generateAccountID は人間可読なアカウントID（ACC-XXXXXXXX）を生成する。
func generateAccountID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "ACC-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
