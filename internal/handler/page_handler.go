package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/hitoshi/memberproof/internal/model"
)

// joinMessage は /join が返す案内文。
const joinMessage = "Membership is required. Complete the signup form and sign in again once your membership is confirmed."

// homePage はランディングページのテンプレートデータ。
type homePage struct {
	GivenName  string
	FamilyName string
}

// PageHandler はランディングページと入会案内のHTTPハンドラー。
type PageHandler struct {
	membership  MembershipRefresher
	joinFormURL string
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(membership MembershipRefresher, joinFormURL string) *PageHandler {
	return &PageHandler{
		membership:  membership,
		joinFormURL: joinFormURL,
	}
}

// Home は会員のランディングページを返す。
// GET /
//
// セッションの会員フラグが偽の場合はストアを再確認し、なお偽なら /join へリダイレクトする。
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewSessionRequiredError())
		return
	}

	if !session.IsMember {
		isMember, err := h.membership.RefreshMembership(r.Context(), session)
		if err != nil {
			slog.Error("failed to refresh membership", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewStorageError(err))
			return
		}
		if !isMember {
			http.Redirect(w, r, "/join", http.StatusFound)
			return
		}
	}

	renderPage(w, http.StatusOK, "home", homePage{
		GivenName:  session.GivenName,
		FamilyName: session.FamilyName,
	})
}

// Join は外部の入会フォームを案内するJSONを返す。
// GET /join
func (h *PageHandler) Join(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message": joinMessage,
		"url":     h.joinFormURL,
	})
}
