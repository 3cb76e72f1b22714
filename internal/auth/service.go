// Package auth はOAuth認証フロー、セッション管理、アプリトークン発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/komek/internal/model"
	"github.com/hitoshi/komek/internal/repository"
	"github.com/hitoshi/komek/internal/token"
)

// Flavor は認証フローの種別を表す。
type Flavor string

const (
	// FlavorWeb はブラウザクライアント向けのセッション確立フロー。
	FlavorWeb Flavor = "web"
	// FlavorApp はネイティブ/モバイルクライアント向けのBearerトークン発行フロー。
	FlavorApp Flavor = "app"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// LoginURL はOAuth認証URLを生成する。
	LoginURL(state, redirectURL string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code, redirectURL string) (*ProviderProfile, error)
}

// UserResolver はプロバイダープロフィールをローカルユーザーに解決するインターフェース。
type UserResolver interface {
	Resolve(ctx context.Context, profile *ProviderProfile) (*model.User, error)
}

// MetricsRecorder はログインイベントのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordLoginSuccess(flavor string)
	RecordLoginFailure(flavor string, reason string)
	RecordTokenIssued()
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ClientID     string
	ClientSecret string

	// フレーバーごとのコールバックURL（Googleコンソールに登録するもの）
	WebRedirectURL string
	AppRedirectURL string

	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	resolver    UserResolver
	sessionRepo repository.SessionRepository
	tokens      token.Store
	metrics     MetricsRecorder
	config      ServiceConfig
	logger      *slog.Logger
}

// NewService はServiceを生成する。metricsはnil可（記録をスキップする）。
func NewService(
	oauth OAuthProvider,
	resolver UserResolver,
	sessionRepo repository.SessionRepository,
	tokens token.Store,
	metrics MetricsRecorder,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		oauth:       oauth,
		resolver:    resolver,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		metrics:     metrics,
		config:      config,
		logger:      logger,
	}
}

// OAuthConfigured はIdPのクライアントID/シークレットが両方設定されているかを返す。
// 未設定の場合、フロー開始・コールバックはエラー指示子付きでフロントエンドへ
// リダイレクトしなければならない。
func (s *Service) OAuthConfigured() bool {
	return strings.TrimSpace(s.config.ClientID) != "" &&
		strings.TrimSpace(s.config.ClientSecret) != ""
}

// LoginURL は指定フレーバーのOAuth認証URLを生成する。
func (s *Service) LoginURL(state string, flavor Flavor) string {
	return s.oauth.LoginURL(state, s.redirectURL(flavor))
}

// HandleWebCallback はウェブフレーバーのコールバックを処理し、セッションを確立する。
// ユーザー解決に失敗した場合はセッションを作成しない（部分的な副作用を残さない）。
func (s *Service) HandleWebCallback(ctx context.Context, code string) (*model.Session, error) {
	user, err := s.resolveCallback(ctx, code, FlavorWeb)
	if err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID, user.IsAdmin)
	if err != nil {
		s.recordFailure(FlavorWeb, "session_create_failed")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recordSuccess(FlavorWeb)
	s.logger.Info("web login succeeded", slog.String("user_id", user.ID))
	return session, nil
}

// HandleAppCallback はアプリフレーバーのコールバックを処理し、アプリトークンを発行する。
// セッションは確立しない。
func (s *Service) HandleAppCallback(ctx context.Context, code string) (string, error) {
	user, err := s.resolveCallback(ctx, code, FlavorApp)
	if err != nil {
		return "", err
	}

	tok, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		s.recordFailure(FlavorApp, "token_issue_failed")
		return "", fmt.Errorf("failed to issue app token: %w", err)
	}

	s.recordSuccess(FlavorApp)
	if s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}
	s.logger.Info("app login succeeded", slog.String("user_id", user.ID))
	return tok, nil
}

// Logout はセッションを破棄する。
// セッションストアの破損を示すため、削除失敗は呼び出し元へ伝播する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	s.logger.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// resolveCallback は認可コードの交換とユーザー解決を行う共通処理。
func (s *Service) resolveCallback(ctx context.Context, code string, flavor Flavor) (*model.User, error) {
	profile, err := s.oauth.ExchangeCode(ctx, code, s.redirectURL(flavor))
	if err != nil {
		s.recordFailure(flavor, "exchange_failed")
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.resolver.Resolve(ctx, profile)
	if err != nil {
		s.recordFailure(flavor, "resolve_failed")
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	return user, nil
}

// redirectURL はフレーバーに対応するコールバックURLを返す。
func (s *Service) redirectURL(flavor Flavor) string {
	if flavor == FlavorApp {
		return s.config.AppRedirectURL
	}
	return s.config.WebRedirectURL
}

func (s *Service) recordSuccess(flavor Flavor) {
	if s.metrics != nil {
		s.metrics.RecordLoginSuccess(string(flavor))
	}
}

func (s *Service) recordFailure(flavor Flavor, reason string) {
	if s.metrics != nil {
		s.metrics.RecordLoginFailure(string(flavor), reason)
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, isAdmin bool) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		IsAdmin:   isAdmin,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
