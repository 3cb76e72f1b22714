package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/komek/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, account_id, email, first_name, last_name,
	provider_id, provider_avatar, avatar, is_specialist, is_admin,
	created_at, updated_at`

// scanUser は1行をmodel.Userに読み取る。NULL許容列は空文字にマップする。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var email, providerID, providerAvatar, avatar sql.NullString
	err := row.Scan(
		&user.ID, &user.AccountID, &email, &user.FirstName, &user.LastName,
		&providerID, &providerAvatar, &avatar, &user.IsSpecialist, &user.IsAdmin,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Email = email.String
	user.ProviderID = providerID.String
	user.ProviderAvatar = providerAvatar.String
	user.Avatar = avatar.String
	return user, nil
}

// nullable は空文字をNULLにマップする。email/provider_idの部分一意制約を効かせるため。
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByProviderID は外部IdPのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderID(ctx context.Context, providerID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_id = $1`, providerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, account_id, email, first_name, last_name,
		   provider_id, provider_avatar, avatar, is_specialist, is_admin,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.AccountID, nullable(user.Email), user.FirstName, user.LastName,
		nullable(user.ProviderID), nullable(user.ProviderAvatar), nullable(user.Avatar),
		user.IsSpecialist, user.IsAdmin, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateProviderAvatar はIdPのアバターURLを更新し、更新後のユーザーを返す。
func (r *PostgresUserRepo) UpdateProviderAvatar(ctx context.Context, id, avatarURL string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET provider_avatar = $1, updated_at = now()
		 WHERE id = $2
		 RETURNING `+userColumns,
		nullable(avatarURL), id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update provider avatar: %w", err)
	}
	return user, nil
}

// LinkProvider は既存ユーザーに外部IdPのユーザーIDとアバターを紐付け、更新後のユーザーを返す。
func (r *PostgresUserRepo) LinkProvider(ctx context.Context, id, providerID, avatarURL string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET provider_id = $1,
		     provider_avatar = COALESCE($2, provider_avatar),
		     updated_at = now()
		 WHERE id = $3
		 RETURNING `+userColumns,
		nullable(providerID), nullable(avatarURL), id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link provider: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
