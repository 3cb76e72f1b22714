package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth（両方設定されている場合のみOAuthが有効になる）
	GoogleClientID     string
	GoogleClientSecret string

	// Server
	ServerPort string
	BackendURL string // 外部から見たこのAPIのベースURL

	// Frontend
	FrontendURL string // フロー失敗時を含むリダイレクト先

	// App flavor
	AppRedirectScheme  string // ネイティブクライアントのカスタムURIスキーム
	AppCallbackBaseURL string // アプリ用コールバックのベースURL上書き
	AppRedirectWebURL  string // 疑似ネイティブ（Web）クライアント用リダイレクト先
	AppTokenFile       string // トークンスナップショットのパス
	AppTokenTTL        time.Duration

	// Session
	SessionMaxAge int // セッション有効期間（秒）

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Production は本番モードフラグ。冗長な認証ログを抑制し、
	// Cookieのセキュリティ属性を厳格化する。
	Production bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET は意図的に必須にしない:
// 未設定の場合はOAuthフローがエラー指示子付きリダイレクトで応答する。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}

	cfg.GoogleClientID = strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID"))
	cfg.GoogleClientSecret = strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET"))

	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.BackendURL = strings.TrimRight(getEnvString("BACKEND_URL", "http://localhost:"+cfg.ServerPort), "/")
	cfg.FrontendURL = strings.TrimRight(getEnvString("FRONTEND_URL", "http://localhost:3001"), "/")

	cfg.AppRedirectScheme = getEnvString("APP_REDIRECT_SCHEME", "komek")
	cfg.AppCallbackBaseURL = strings.TrimRight(getEnvString("APP_CALLBACK_BASE_URL", cfg.BackendURL), "/")
	cfg.AppRedirectWebURL = strings.TrimRight(os.Getenv("APP_REDIRECT_WEB_URL"), "/")
	cfg.AppTokenFile = getEnvString("APP_TOKEN_FILE", "data/app-tokens.json")
	cfg.AppTokenTTL = getEnvDuration("APP_TOKEN_TTL", 24*time.Hour)

	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)

	cfg.Production = getEnvString("APP_ENV", "") == "production"
	cfg.CookieSecure = cfg.Production || strings.HasPrefix(cfg.BackendURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.FrontendURL)

	return cfg, nil
}

// WebCallbackURL はウェブフレーバーのOAuthコールバックURLを返す。
func (c *Config) WebCallbackURL() string {
	return c.BackendURL + "/auth/google/callback"
}

// AppCallbackURL はアプリフレーバーのOAuthコールバックURLを返す。
func (c *Config) AppCallbackURL() string {
	return c.AppCallbackBaseURL + "/auth/google/callback/app"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
