package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/memberproof/internal/metrics"
	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// loginPath はセッションが無い場合のリダイレクト先。
const loginPath = "/login"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger
	HSTS   bool

	// セッション
	SessionFinder middleware.SessionFinder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	Membership  MembershipRefresher

	// 証明トークン
	TokenIssuer   TokenIssuer
	QRRenderer    QRRenderer
	VerifyService VerifyServiceInterface
	JoinFormURL   string

	// レート制限
	VerifyLimiter *middleware.RateLimiter
	QRCodeLimiter *middleware.RateLimiter

	// 運用
	Metrics      metrics.MetricsCollector
	Gatherer     prometheus.Gatherer
	HealthChecks []HealthCheck
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェアの実行順序:
//
//	SecurityHeaders → Logging → Recovery
//
// /qr-code はさらに FetchHeader → Session → RateLimit(subject) → NoStore を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Metrics, deps.AuthConfig)
	proofHandler := NewProofHandler(deps.TokenIssuer, deps.QRRenderer, deps.Membership, deps.Metrics)
	verifyHandler := NewVerifyHandler(deps.VerifyService)
	pageHandler := NewPageHandler(deps.Membership, deps.JoinFormURL)
	healthHandler := NewHealthHandler(deps.HealthChecks...)

	// --- 認証不要のルート ---
	r.Get("/login", authHandler.Login)
	r.Get("/authorize", authHandler.Callback)
	r.Post("/logout", authHandler.Logout)
	r.Get("/join", pageHandler.Join)
	r.Get("/health", healthHandler.Health)
	r.Handle("/static/*", StaticHandler())
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// 検証はIPごとにレート制限する。超過時も結果ページで知らせる
	r.Group(func(r chi.Router) {
		if deps.VerifyLimiter != nil {
			r.Use(deps.VerifyLimiter.MiddlewareWithReject(middleware.ClientIPKey, verifyHandler.RateLimited))
		}
		r.Get("/verify", verifyHandler.Verify)
	})

	// --- セッションが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, loginPath))
		r.Get("/", pageHandler.Home)
	})

	// QRコードはfetch専用。ヘッダー検証をセッション確認より先に行う
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireFetchHeader)
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, ""))
		if deps.QRCodeLimiter != nil {
			r.Use(deps.QRCodeLimiter.Middleware(middleware.SessionSubjectKey))
		}
		r.Use(middleware.NoStore)
		r.Get("/qr-code", proofHandler.QRCode)
	})

	return r
}
