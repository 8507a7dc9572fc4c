package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/hitoshi/memberproof/internal/model"
)

// TokenIssuer は証明トークンを発行するインターフェース。
// token.Codec が実装する。
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// QRRenderer はトークンをbase64エンコード済みQRコードPNGに変換するインターフェース。
// proof.Renderer が実装する。
type QRRenderer interface {
	Render(token string) ([]byte, error)
}

// MembershipRefresher はセッションの会員フラグをストアの値で更新するインターフェース。
// auth.Service が実装する。
type MembershipRefresher interface {
	RefreshMembership(ctx context.Context, session *model.Session) (bool, error)
}

// IssueRecorder はトークン発行をメトリクスに記録するインターフェース。
type IssueRecorder interface {
	RecordTokenIssued()
}

// ProofHandler は会員証明QRコードを発行するHTTPハンドラー。
type ProofHandler struct {
	issuer     TokenIssuer
	renderer   QRRenderer
	membership MembershipRefresher
	recorder   IssueRecorder
}

// NewProofHandler はProofHandlerを生成する。recorderはnilでもよい。
func NewProofHandler(issuer TokenIssuer, renderer QRRenderer, membership MembershipRefresher, recorder IssueRecorder) *ProofHandler {
	return &ProofHandler{
		issuer:     issuer,
		renderer:   renderer,
		membership: membership,
		recorder:   recorder,
	}
}

// QRCode は新しいトークンを発行し、base64エンコードしたQRコードPNGを返す。
// GET /qr-code
//
// X-Fetchヘッダーとセッションはミドルウェアで検証済みであること。
// 失敗時はステータスコードのみを返す。
func (h *ProofHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// セッションのフラグはヒントとして使い、発行前にストアで再確認する
	if !session.IsMember {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	isMember, err := h.membership.RefreshMembership(r.Context(), session)
	if err != nil {
		slog.Error("failed to refresh membership", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !isMember {
		slog.Info("qr code refused for revoked member", slog.String("subject", session.Subject))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	tok, err := h.issuer.Issue(session.Subject)
	if err != nil {
		slog.Error("failed to issue token", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	body, err := h.renderer.Render(tok)
	if err != nil {
		slog.Error("failed to render qr code", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordTokenIssued()
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
