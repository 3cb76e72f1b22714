// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/komek/internal/auth"
	"github.com/hitoshi/komek/internal/config"
	"github.com/hitoshi/komek/internal/database"
	"github.com/hitoshi/komek/internal/handler"
	"github.com/hitoshi/komek/internal/logger"
	"github.com/hitoshi/komek/internal/metrics"
	"github.com/hitoshi/komek/internal/middleware"
	"github.com/hitoshi/komek/internal/repository"
	"github.com/hitoshi/komek/internal/token"
	"github.com/hitoshi/komek/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("backend_url", cfg.BackendURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. アプリトークンストアの初期化
	// リスナー起動前にスナップショットを読み込む: 再起動直後のBearerリクエストが
	// 空のストアに当たらないようにする。スナップショットの欠損・破損は
	// 空ストアとして続行する（Load内でログに記録される）。
	tokenStore := token.NewFileStore(cfg.AppTokenFile, cfg.AppTokenTTL, slog.Default())
	tokenStore.Load()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 認証サービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	})
	resolver := auth.NewResolver(userRepo, slog.Default())
	authService := auth.NewService(
		oauthProvider, resolver, sessionRepo, tokenStore, collector,
		auth.ServiceConfig{
			ClientID:       cfg.GoogleClientID,
			ClientSecret:   cfg.GoogleClientSecret,
			WebRedirectURL: cfg.WebCallbackURL(),
			AppRedirectURL: cfg.AppCallbackURL(),
			SessionMaxAge:  cfg.SessionMaxAge,
		},
		slog.Default(),
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:       cfg.FrontendURL,
			AppRedirectScheme: cfg.AppRedirectScheme,
			AppRedirectWebURL: cfg.AppRedirectWebURL,
			CookieDomain:      cfg.CookieDomain,
			CookieSecure:      cfg.CookieSecure,
			SessionMaxAge:     cfg.SessionMaxAge,
		},

		SessionFinder: sessionRepo,
		TokenLookup:   measuredTokenLookup{store: tokenStore, metrics: collector},
		UserFinder:    userRepo,

		Metrics:     collector,
		Gatherer:    registry,
		RateLimiter: rateLimiter,
		CORSConfig: middleware.CORSConfig{
			AllowedOrigin: cfg.CORSAllowedOrigin,
			BackendOrigin: cfg.BackendURL,
			Production:    cfg.Production,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		VerboseAuth: !cfg.Production,
	}

	router := handler.NewRouter(deps)

	// 7. 期限切れスイープの起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := sweep.NewSweeper(sessionRepo, tokenStore, slog.Default())
	go sweeper.Start(ctx, sweep.DefaultInterval)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// measuredTokenLookup はトークン照合の結果をメトリクスに記録するデコレータ。
type measuredTokenLookup struct {
	store   token.Store
	metrics *metrics.Collector
}

func (m measuredTokenLookup) Lookup(tok string) (string, bool) {
	userID, result := m.store.Lookup(tok)
	m.metrics.RecordTokenLookup(string(result))
	return userID, result == token.LookupHit
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
