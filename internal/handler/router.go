package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/komek/internal/metrics"
	"github.com/hitoshi/komek/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 認証ミドルウェア依存
	SessionFinder middleware.SessionFinder
	TokenLookup   middleware.TokenLookup
	UserFinder    middleware.UserFinder

	// アンビエント
	Logger        *slog.Logger
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
	RateLimiter   *middleware.RateLimiter
	CORSConfig    middleware.CORSConfig
	CSRFConfig    middleware.CSRFConfig
	VerboseAuth   bool // 本番以外での認証診断ログ
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → CSRF → Authenticate → Logging
//
// 認証ミドルウェアはリクエストを拒否せず、身元をコンテキストに載せるだけ。
// LoggingはAuthenticateの内側に置き、認証済みリクエストのuser_idをログに含める。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSConfig))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
	r.Use(middleware.NewAuthenticator(deps.SessionFinder, deps.TokenLookup, deps.UserFinder, deps.VerboseAuth))
	r.Use(middleware.NewLoggingMiddleware(logger, statusMetrics(deps.Metrics)))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)

	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー開始・コールバックには専用のレート制限を適用
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.LoginMiddleware())
			}
			r.Get("/google", authHandler.Login)
			r.Get("/google/callback", authHandler.WebCallback)
			r.Get("/google/callback/app", authHandler.AppCallback)
		})

		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}
			r.Get("/app-redirect", authHandler.AppRedirect)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	// 運用エンドポイント（レート制限・認証の対象外）
	r.Get("/health", Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// statusMetrics はCollectorをnil安全にStatusMetricsへ変換する。
func statusMetrics(c *metrics.Collector) middleware.StatusMetrics {
	if c == nil {
		return nil
	}
	return c
}
