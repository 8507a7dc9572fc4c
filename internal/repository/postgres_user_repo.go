package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/memberproof/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用した会員名簿リポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// UpsertUser はユーザーが存在しない場合のみ挿入する。
// ON CONFLICT DO NOTHING により、同時ログインでも重複行は作られない。
func (r *PostgresUserRepo) UpsertUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, given_name, family_name, is_member, created_at, updated_at)
		 VALUES ($1, $2, $3, FALSE, $4, $4)
		 ON CONFLICT (username) DO NOTHING`,
		user.Username, user.GivenName, user.FamilyName, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// FindByUsername は指定ユーザー名のユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT username, given_name, family_name, is_member, created_at, updated_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&user.Username, &user.GivenName, &user.FamilyName, &user.IsMember, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}

	return user, nil
}

// IsMember は会員フラグを返す。ユーザーが存在しない場合はfalseを返す。
func (r *PostgresUserRepo) IsMember(ctx context.Context, username string) (bool, error) {
	var isMember bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_member FROM users WHERE username = $1`,
		username,
	).Scan(&isMember)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return isMember, nil
}

// SetMembersByRoster は名簿の各識別子について会員フラグをtrueにする。
// 全件を1トランザクションで処理する。
// 未ログインのユーザーは行が存在しないためスキップされる（既知の制約）。
func (r *PostgresUserRepo) SetMembersByRoster(ctx context.Context, usernames []string) (*model.RosterResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &model.RosterResult{}
	now := time.Now().UTC()

	for _, username := range usernames {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET is_member = TRUE, updated_at = $2 WHERE username = $1`,
			username, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark member %q: %w", username, err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			result.Skipped = append(result.Skipped, username)
			continue
		}
		result.Marked++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
