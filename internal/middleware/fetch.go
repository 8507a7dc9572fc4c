package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberproof/internal/model"
)

// FetchHeader はスクリプトからの取得であることを示すリクエストヘッダー。
const FetchHeader = "X-Fetch"

// RequireFetchHeader は X-Fetch: true を持たないリクエストを403で拒否する。
// ブラウザでURLを直接開いた場合やリンク経由の遷移を弾く。
func RequireFetchHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(FetchHeader) != "true" {
			slog.Warn("request without fetch header rejected",
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewFetchOnlyError())
			return
		}
		next.ServeHTTP(w, r)
	})
}
