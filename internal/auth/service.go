// Package auth はOIDCログインフローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/memberproof/internal/model"
	"github.com/hitoshi/memberproof/internal/repository"
	"github.com/hitoshi/memberproof/internal/security"
)

// ErrUpstreamAuth はIdPとのコード交換やIDトークン検証に失敗したことを示す。
var ErrUpstreamAuth = errors.New("upstream authentication failed")

// OAuthUserInfo はIdPから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Subject    string
	GivenName  string
	FamilyName string
}

// OAuthProvider は認可コードフローを提供するIdPのインターフェース。
type OAuthProvider interface {
	// GetLoginURL は認可エンドポイントのURLを生成する。
	GetLoginURL(state, nonce string) string
	// ExchangeCode は認可コードをトークンに交換し、nonceを照合してユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code, nonce string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.NameSanitizer
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	sanitizer security.NameSanitizer,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL は認可エンドポイントのURLを生成する。
func (s *Service) GetLoginURL(state, nonce string) string {
	return s.oauth.GetLoginURL(state, nonce)
}

// HandleCallback は認可コードを交換し、ユーザーを名簿に登録してセッションを発行する。
// 既存ユーザーの会員フラグと氏名は変更しない。
// セッションの会員フラグにはストアの現在値を保存する。
func (s *Service) HandleCallback(ctx context.Context, code, nonce string) (*model.Session, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is missing", ErrUpstreamAuth)
	}

	// 1. 認可コードを交換しユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
	}

	givenName := s.sanitizer.Sanitize(info.GivenName)
	familyName := s.sanitizer.Sanitize(info.FamilyName)

	// 2. 未登録なら非会員として登録
	now := s.now()
	if err := s.userRepo.UpsertUser(ctx, &model.User{
		Username:   info.Subject,
		GivenName:  givenName,
		FamilyName: familyName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 3. 現在の会員フラグを取得
	isMember, err := s.userRepo.IsMember(ctx, info.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, info.Subject, givenName, familyName, isMember)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("subject", info.Subject),
		slog.Bool("is_member", isMember),
	)
	return session, nil
}

// RefreshMembership はストアの会員フラグを再取得し、変化があればセッションを更新する。
// 戻り値はストア上の現在値。
func (s *Service) RefreshMembership(ctx context.Context, session *model.Session) (bool, error) {
	isMember, err := s.userRepo.IsMember(ctx, session.Subject)
	if err != nil {
		return false, fmt.Errorf("failed to read membership: %w", err)
	}

	if isMember != session.IsMember {
		session.IsMember = isMember
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			return isMember, fmt.Errorf("failed to update session: %w", err)
		}
		slog.Info("session membership refreshed",
			slog.String("subject", session.Subject),
			slog.Bool("is_member", isMember),
		)
	}
	return isMember, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

func (s *Service) createSession(ctx context.Context, subject, givenName, familyName string, isMember bool) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:         sessionID,
		Subject:    subject,
		GivenName:  givenName,
		FamilyName: familyName,
		IsMember:   isMember,
		ExpiresAt:  now.Add(s.config.SessionMaxAge),
		CreatedAt:  now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
