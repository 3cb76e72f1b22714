// Package sweep は期限切れ資格情報の定期削除ジョブを提供する。
// 期限切れのセッション行と、メモリ上のアプリトークンをまとめて掃除する。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はスイープの実行間隔のデフォルト値。
const DefaultInterval = time.Hour

// SessionSweeper は期限切れセッションの削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// TokenSweeper は期限切れアプリトークンの削除インターフェース。
// token.Storeの部分集合として定義する。
type TokenSweeper interface {
	Purge() int
}

// Sweeper は期限切れのセッションとアプリトークンを定期的に削除するジョブ。
// 有効期限はセッション検索・トークン照合の時点でも強制されるため、
// スイープは遅延してもリクエストの振る舞いには影響しない。
type Sweeper struct {
	sessions SessionSweeper
	tokens   TokenSweeper
	logger   *slog.Logger
}

// NewSweeper は新しいSweeperを生成する。
func NewSweeper(sessions SessionSweeper, tokens TokenSweeper, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("expiry sweep failed",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("expiry sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限切れのセッションとトークンを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	deletedSessions, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	purgedTokens := s.tokens.Purge()

	s.logger.Info("expiry sweep completed",
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int("purged_tokens", purgedTokens),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
