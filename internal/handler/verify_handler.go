package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/hitoshi/memberproof/internal/model"
	"github.com/hitoshi/memberproof/internal/verify"
)

// VerifyServiceInterface は検証ハンドラーが必要とするサービスインターフェース。
type VerifyServiceInterface interface {
	Verify(ctx context.Context, token string) (*verify.Result, error)
}

// MessageTooManyRequests はレート制限時に検証ページへ表示する文言。
const MessageTooManyRequests = "Too many requests. Please try again later."

// verifyPage は検証結果ページのテンプレートデータ。
type verifyPage struct {
	State   verify.State
	Message string
	User    *model.User
}

// VerifyHandler は提示されたトークンを検証するHTTPハンドラー。
type VerifyHandler struct {
	service VerifyServiceInterface
}

// NewVerifyHandler はVerifyHandlerを生成する。
func NewVerifyHandler(service VerifyServiceInterface) *VerifyHandler {
	return &VerifyHandler{service: service}
}

// Verify はトークンを検証し結果ページを返す。
// GET /verify?token=xxx
//
// 未登録ユーザーのみ404のJSONを返す。ストア障害時は500で結果ページにエラー文言を表示する。
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		slog.Error("verification failed", slog.String("error", err.Error()))
		renderPage(w, http.StatusInternalServerError, "verify", verifyPage{
			Message: model.NewStorageError(err).Message,
		})
		return
	}

	if result.State == verify.StateNotFound {
		middleware.WriteJSON(w, http.StatusNotFound, map[string]string{
			"message": result.Message,
		})
		return
	}

	page := verifyPage{State: result.State, Message: result.Message}
	// 氏名は検証済みの場合のみ表示する
	if result.State == verify.StateVerified {
		page.User = result.User
	}
	renderPage(w, http.StatusOK, "verify", page)
}

// RateLimited はレート制限を超えた検証リクエストに結果ページを429で返す。
func (h *VerifyHandler) RateLimited(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusTooManyRequests, "verify", verifyPage{
		State:   "rate_limited",
		Message: MessageTooManyRequests,
	})
}
