// Package token は会員証明トークンの発行と検証を提供する。
//
// トークンはHS256で署名されたJWTで、subにユーザー名、iatに発行時刻、
// expに発行時刻の30秒後を持つ。検証時のみ10秒の時刻ずれを許容する。
// トークンは永続化せず、有効期間内の再提示（リプレイ）は防がない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Validity はトークンの有効期間。
	Validity = 30 * time.Second
	// Leeway は検証時に許容する時刻ずれ。
	Leeway = 10 * time.Second
)

var (
	// ErrExpiredToken は署名は正しいが有効期限（猶予込み）を過ぎたトークンを表す。
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidToken は署名不一致・形式不正・必須クレーム欠落のトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
)

// Claims はトークンのクレームセット。
type Claims struct {
	jwt.RegisteredClaims
}

// Codec はトークンの発行と検証を行う。
// 署名鍵はプロセス全体で共有され、生成後は変更されないため並行利用できる。
type Codec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec はCodecを生成する。secretが空の場合はエラーを返す。
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}

	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// 有効期限は猶予込みで境界を含めて判定するため、ライブラリのクレーム検証は使わない。
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	return c, nil
}

// Issue は指定ユーザー名に対する署名済みトークンを発行する。
// 発行時刻は秒単位に切り捨て、expがちょうど30秒後になるようにする。
func (c *Codec) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("subject must not be empty")
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(Validity)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、ユーザー名を返す。
// 署名検証が先に行われるため、ErrExpiredTokenは署名が正しい場合にのみ返る。
// 失敗時は ErrExpiredToken または ErrInvalidToken をラップしたエラーを返す。
func (c *Codec) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	// now <= exp + leeway の間は有効。expは秒精度なのでnowも秒に揃えて比較する。
	now := c.now().UTC().Truncate(time.Second)
	if now.After(claims.ExpiresAt.Time.Add(Leeway)) {
		return "", ErrExpiredToken
	}

	return claims.Subject, nil
}
