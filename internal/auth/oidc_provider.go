package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

// OIDCConfig はOIDCプロバイダーの設定。
type OIDCConfig struct {
	// DiscoveryURL はIdPのディスカバリードキュメントURL。
	// issuer URLそのものを指定してもよい。
	DiscoveryURL string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider はOpenID Connectの認可コードフローによる認証を提供する。
type OIDCProvider struct {
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// idTokenClaims はIDトークンから取り出すクレーム。
type idTokenClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
}

// NewOIDCProvider はディスカバリードキュメントを取得してOIDCProviderを生成する。
// IdPに到達できない場合はエラーを返す。
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.DiscoveryURL == "" {
		return nil, errors.New("oidc discovery URL is required")
	}

	provider, err := oidc.NewProvider(ctx, IssuerFromDiscoveryURL(cfg.DiscoveryURL))
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	return &OIDCProvider{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// IssuerFromDiscoveryURL はディスカバリーURLからissuer URLを導出する。
func IssuerFromDiscoveryURL(discoveryURL string) string {
	issuer := strings.TrimSuffix(discoveryURL, wellKnownSuffix)
	return strings.TrimSuffix(issuer, "/")
}

// GetLoginURL はIdPの認可エンドポイントURLを生成する。
// nonceはIDトークンに埋め込まれ、ExchangeCodeで照合される。
func (p *OIDCProvider) GetLoginURL(state, nonce string) string {
	return p.oauth2.AuthCodeURL(state, oidc.Nonce(nonce))
}

// ExchangeCode は認可コードをトークンに交換し、IDトークンを検証してユーザー情報を返す。
// IDトークンのnonceがログイン開始時のものと一致しなければ拒否する。
// preferred_usernameがない場合はsubを識別子として使う。
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, nonce string) (*OAuthUserInfo, error) {
	if nonce == "" {
		return nil, errors.New("nonce is required")
	}

	tok, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, errors.New("id token nonce mismatch")
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token claims: %w", err)
	}

	subject := claims.PreferredUsername
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return nil, errors.New("id token has no subject")
	}

	return &OAuthUserInfo{
		Subject:    subject,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*OIDCProvider)(nil)
