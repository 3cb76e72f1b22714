// Package token はアプリ（ネイティブ/モバイル）クライアント用のBearerトークンストアを提供する。
// トークンはインメモリのマップで管理し、プロセス再起動に備えて
// JSONスナップショットファイルにミラーリングする。
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultTTL はトークンの有効期間のデフォルト値。
const DefaultTTL = 24 * time.Hour

// LookupResult はLookupの判定結果。メトリクスのラベル値としてそのまま使う。
type LookupResult string

const (
	// LookupHit は有効なトークンに一致した。
	LookupHit LookupResult = "hit"
	// LookupMiss は未登録のトークンだった。
	LookupMiss LookupResult = "miss"
	// LookupExpired は登録済みだが期限切れのトークンだった。
	LookupExpired LookupResult = "expired"
)

// Store はアプリトークンの発行と検索のインターフェース。
// 認証ミドルウェアとOAuthフローコントローラに注入する。
type Store interface {
	// Issue は新しいトークンを生成してuserIDに紐付け、スナップショットを書き出す。
	// 永続化の失敗はログに記録するのみで、発行自体は成功として扱う。
	Issue(ctx context.Context, userID string) (string, error)
	// Lookup はトークンに紐付くユーザーIDと判定結果を返す。
	// userIDはLookupHitの場合のみ非空。有効期限の延長は行わない。
	Lookup(token string) (userID string, result LookupResult)
	// Load はスナップショットファイルからストアを復元する。
	// HTTPリスナー起動前に1回だけ呼ぶ。スナップショットはキャッシュであり、
	// 欠損・破損はログに記録して空ストアで起動する（起動を失敗させない）。
	Load()
	// Purge は期限切れエントリをライブマップから削除し、削除件数を返す。
	Purge() int
}

// entry はスナップショットファイルの1レコード。
// 元のモバイルクライアントとの互換のため、expiresAtはUnixミリ秒で保存する。
type entry struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// liveEntry はインメモリマップの値。
type liveEntry struct {
	userID    string
	expiresAt time.Time
}

// FileStore はファイル永続化付きのインメモリトークンストア。
// マップはmutexで保護する。スナップショットファイルはキャッシュであり、
// プロセス内の検索の正とはしない（last-write-wins、書き込み失敗は非致命）。
type FileStore struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]liveEntry

	now func() time.Time // テスト用に差し替え可能
}

// NewFileStore はFileStoreを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewFileStore(path string, ttl time.Duration, logger *slog.Logger) *FileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		ttl:    ttl,
		logger: logger,
		tokens: make(map[string]liveEntry),
		now:    time.Now,
	}
}

// Issue は新しいトークンを生成してuserIDに紐付け、スナップショットを書き出す。
func (s *FileStore) Issue(ctx context.Context, userID string) (string, error) {
	tok, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate app token: %w", err)
	}

	s.mu.Lock()
	// 256ビットの乱数なので衝突は事実上起きないが、一意性の不変条件は守る
	for {
		if _, exists := s.tokens[tok]; !exists {
			break
		}
		tok, err = generateToken()
		if err != nil {
			s.mu.Unlock()
			return "", fmt.Errorf("failed to generate app token: %w", err)
		}
	}
	s.tokens[tok] = liveEntry{
		userID:    userID,
		expiresAt: s.now().Add(s.ttl),
	}
	size := len(s.tokens)
	s.mu.Unlock()

	// 永続化の失敗で当該リクエストの認証を失敗させない
	if err := s.persist(); err != nil {
		s.logger.Error("failed to persist app tokens",
			slog.String("error", err.Error()),
			slog.String("path", s.path),
		)
	}

	s.logger.Info("app token issued",
		slog.String("user_id", userID),
		slog.Int("store_size", size),
	)

	return tok, nil
}

// Lookup はトークンに紐付くユーザーIDと判定結果を返す。
// 未登録はLookupMiss、登録済みで期限切れはLookupExpiredを返す。
func (s *FileStore) Lookup(token string) (string, LookupResult) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.tokens[token]
	switch {
	case !exists:
		return "", LookupMiss
	case !s.now().Before(e.expiresAt):
		return "", LookupExpired
	default:
		return e.userID, LookupHit
	}
}

// Load はスナップショットファイルからストアを復元する。期限切れエントリは読み捨てる。
// ファイルが存在しない場合は「トークン未発行」として正常扱いし、
// 読み込み・パースの失敗もログに記録して空ストアで続行する。
// スナップショットはキャッシュなので、破損で起動を止めない。
func (s *FileStore) Load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no app token snapshot yet, starting empty",
			slog.String("path", s.path),
		)
		return
	}
	if err != nil {
		s.logger.Error("failed to read app token snapshot, starting empty",
			slog.String("error", err.Error()),
			slog.String("path", s.path),
		)
		return
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Error("failed to parse app token snapshot, starting empty",
			slog.String("error", err.Error()),
			slog.String("path", s.path),
		)
		return
	}

	now := s.now()
	s.mu.Lock()
	for _, e := range entries {
		if time.UnixMilli(e.ExpiresAt).After(now) {
			s.tokens[e.Token] = liveEntry{
				userID:    e.UserID,
				expiresAt: time.UnixMilli(e.ExpiresAt),
			}
		}
	}
	size := len(s.tokens)
	s.mu.Unlock()

	if len(entries) > 0 {
		s.logger.Info("app tokens loaded from snapshot",
			slog.Int("loaded", size),
			slog.Int("discarded_expired", len(entries)-size),
			slog.String("path", s.path),
		)
	}
}

// Purge は期限切れエントリをライブマップから削除し、削除件数を返す。
func (s *FileStore) Purge() int {
	now := s.now()

	s.mu.Lock()
	purged := 0
	for tok, e := range s.tokens {
		if !now.Before(e.expiresAt) {
			delete(s.tokens, tok)
			purged++
		}
	}
	s.mu.Unlock()

	return purged
}

// Size は現在のライブエントリ数を返す。テストおよびメトリクス用。
func (s *FileStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// persist は非期限切れエントリのみをスナップショットファイルに書き出す。
// ディレクトリが無ければ作成する。一時ファイルに書いてからrenameすることで、
// 書き込み途中のクラッシュで既存スナップショットを壊さない。
func (s *FileStore) persist() error {
	now := s.now()

	s.mu.RLock()
	entries := make([]entry, 0, len(s.tokens))
	for tok, e := range s.tokens {
		if e.expiresAt.After(now) {
			entries = append(entries, entry{
				Token:     tok,
				UserID:    e.userID,
				ExpiresAt: e.expiresAt.UnixMilli(),
			})
		}
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal app tokens: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write app token snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write app token snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace app token snapshot: %w", err)
	}

	return nil
}

// generateToken は暗号的に安全な256ビットのトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ Store = (*FileStore)(nil)
