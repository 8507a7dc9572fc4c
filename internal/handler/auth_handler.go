// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/memberproof/internal/auth"
	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/hitoshi/memberproof/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthNonceCookie = "oauth_nonce"
	returnToCookie   = "return_to"

	// ログインフロー用Cookieの有効期間（秒）
	loginFlowMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state, nonce string) string
	HandleCallback(ctx context.Context, code, nonce string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// LoginRecorder はログイン結果をメトリクスに記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(success bool)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOIDC認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		recorder: recorder,
		config:   config,
	}
}

// Login はOIDCフローを開始する。
// GET /login?next=/path
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateFlowValue()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	nonce, err := generateFlowValue()
	if err != nil {
		slog.Error("failed to generate oidc nonce", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateはCSRF対策、nonceはIDトークンの使い回し対策としてCookieに保存
	h.setFlowCookie(w, oauthStateCookie, state)
	h.setFlowCookie(w, oauthNonceCookie, nonce)

	// ログイン後の戻り先。相対パス以外は捨てる
	if next := sanitizeReturnTo(r.URL.Query().Get("next")); next != "" {
		h.setFlowCookie(w, returnToCookie, url.QueryEscape(next))
	} else {
		h.clearCookie(w, returnToCookie, "")
	}

	http.Redirect(w, r, h.service.GetLoginURL(state, nonce), http.StatusFound)
}

// Callback はIdPからのコールバックを処理する。
// GET /authorize?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		h.record(false)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.clearCookie(w, oauthStateCookie, "")

	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil || nonceCookie.Value == "" {
		slog.Warn("oidc nonce cookie missing")
		h.record(false)
		http.Error(w, "invalid nonce", http.StatusBadRequest)
		return
	}
	h.clearCookie(w, oauthNonceCookie, "")

	// 2. コード交換とセッション発行（IDトークンのnonceを照合）
	session, err := h.service.HandleCallback(r.Context(), r.URL.Query().Get("code"), nonceCookie.Value)
	if err != nil {
		h.record(false)
		if errors.Is(err, auth.ErrUpstreamAuth) {
			slog.Warn("oidc callback rejected", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamAuthError(err))
			return
		}
		slog.Error("oidc callback failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewStorageError(err))
		return
	}
	h.record(true)

	// 3. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 4. 保存しておいた戻り先へリダイレクト
	target := "/"
	if c, err := r.Cookie(returnToCookie); err == nil {
		if raw, err := url.QueryUnescape(c.Value); err == nil {
			if next := sanitizeReturnTo(raw); next != "" {
				target = next
			}
		}
		h.clearCookie(w, returnToCookie, "")
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Logout はセッションを破棄する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// 失敗してもCookieはクリアする
		}
	}

	h.clearCookie(w, middleware.SessionCookieName, h.config.CookieDomain)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) record(success bool) {
	if h.recorder != nil {
		h.recorder.RecordLogin(success)
	}
}

func (h *AuthHandler) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   loginFlowMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sanitizeReturnTo は同一オリジンの相対パスのみを返す。それ以外は空文字を返す。
// "//evil.example" や "/\evil.example" のようなスキーム相対URLも拒否する。
func sanitizeReturnTo(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return ""
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}

// generateFlowValue はstateやnonceに使うランダム値を生成する。
func generateFlowValue() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
