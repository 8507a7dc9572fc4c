// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/memberproof/internal/model"
)

// UserRepository は会員名簿の永続化インターフェース。
// usernameを唯一の主キーとし、1識別子につき1行のみを保持する。
type UserRepository interface {
	// UpsertUser はユーザーが存在しない場合のみ会員フラグfalseで挿入する。
	// 既に存在する場合は氏名も会員フラグも更新しない。
	UpsertUser(ctx context.Context, user *model.User) error

	// FindByUsername は指定ユーザー名のユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// IsMember は会員フラグを返す。ユーザーが存在しない場合はfalseを返す。
	IsMember(ctx context.Context, username string) (bool, error)

	// SetMembersByRoster は名簿に含まれる既存ユーザーの会員フラグをtrueにする。
	// ストアに存在しない識別子はスキップし、結果のSkippedに含める。
	SetMembersByRoster(ctx context.Context, usernames []string) (*model.RosterResult, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Update はセッションの内容（氏名と会員フラグのキャッシュ）を更新する。
	Update(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
