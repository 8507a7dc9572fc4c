// Package verify は提示された会員証明トークンの検証を提供する。
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/memberproof/internal/model"
	"github.com/hitoshi/memberproof/internal/token"
)

// State は1回の検証リクエストの終端状態を表す。
type State string

const (
	StateNoToken    State = "no_token"
	StateExpired    State = "expired"
	StateInvalid    State = "invalid"
	StateNotFound   State = "not_found"
	StateNotAMember State = "not_a_member"
	StateVerified   State = "verified"
)

// 画面に表示するメッセージ
const (
	MessageNoToken    = "No token to verify"
	MessageExpired    = "Token expired"
	MessageInvalid    = "Invalid token"
	MessageNotFound   = model.MessageUserNotFound
	MessageNotAMember = model.MessageNotAMember
	MessageVerified   = "User verified"
)

// TokenVerifier はトークンを検証しユーザー名を返すインターフェース。
// token.Codec が実装する。
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// UserFinder は会員名簿からユーザーを取得するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// OutcomeRecorder は検証結果をメトリクスに記録するインターフェース。
type OutcomeRecorder interface {
	RecordVerification(state string)
}

// Result は検証結果。UserはNotAMemberとVerifiedの場合のみ設定される。
// Codeは名簿照合で拒否した場合のエラーコード。
type Result struct {
	State   State
	Message string
	Code    string
	User    *model.User
}

// Service はトークン検証と会員名簿の照合を行う。
type Service struct {
	tokens   TokenVerifier
	users    UserFinder
	recorder OutcomeRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(tokens TokenVerifier, users UserFinder, recorder OutcomeRecorder) *Service {
	return &Service{
		tokens:   tokens,
		users:    users,
		recorder: recorder,
	}
}

// Verify はトークンを検証し、ストア上の会員フラグを確認する。
// トークン由来のエラーは結果に変換し、ストア障害のみをエラーとして返す。
func (s *Service) Verify(ctx context.Context, tokenString string) (*Result, error) {
	result, err := s.verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.RecordVerification(string(result.State))
	}
	return result, nil
}

func (s *Service) verify(ctx context.Context, tokenString string) (*Result, error) {
	if tokenString == "" {
		return &Result{State: StateNoToken, Message: MessageNoToken}, nil
	}

	username, err := s.tokens.Verify(tokenString)
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return &Result{State: StateExpired, Message: MessageExpired}, nil
	case err != nil:
		slog.Debug("token rejected", slog.String("error", err.Error()))
		return &Result{State: StateInvalid, Message: MessageInvalid}, nil
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		slog.Warn("verified token for unknown user", slog.String("username", username))
		apiErr := model.NewUserNotFoundError()
		return &Result{State: StateNotFound, Message: apiErr.Message, Code: apiErr.Code}, nil
	}

	if !user.IsMember {
		slog.Info("token presented by non-member", slog.String("username", username))
		apiErr := model.NewNotAMemberError()
		return &Result{State: StateNotAMember, Message: apiErr.Message, Code: apiErr.Code, User: user}, nil
	}

	return &Result{State: StateVerified, Message: MessageVerified, User: user}, nil
}
