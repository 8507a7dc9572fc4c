// Package model はドメインモデルを定義する。
package model

import "time"

// User は会員名簿に登録されたユーザーを表す。
// Username はIdPが発行する安定したユーザー名で、唯一の主キーとなる。
type User struct {
	Username   string
	GivenName  string
	FamilyName string
	IsMember   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName は表示用の氏名を返す。
func (u *User) DisplayName() string {
	switch {
	case u.GivenName == "":
		return u.FamilyName
	case u.FamilyName == "":
		return u.GivenName
	default:
		return u.GivenName + " " + u.FamilyName
	}
}

// Session はブラウザごとのログインセッションを表す。
// IsMember はストアの会員フラグのキャッシュであり、ヒントとしてのみ扱う。
type Session struct {
	ID         string
	Subject    string
	GivenName  string
	FamilyName string
	IsMember   bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// IsExpired はセッションが有効期限を過ぎているかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RosterResult は名簿インポートの結果を表す。
// Skipped にはストアに存在しなかったため更新されなかった識別子が入る。
type RosterResult struct {
	Marked  int
	Skipped []string
}
