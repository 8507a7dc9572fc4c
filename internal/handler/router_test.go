package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/memberproof/internal/metrics"
	"github.com/hitoshi/memberproof/internal/middleware"
	"github.com/hitoshi/memberproof/internal/model"
	"github.com/hitoshi/memberproof/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
)

// mockSessionFinderForRouter はRouterテスト用のSessionFinderモック。
type mockSessionFinderForRouter struct {
	sessions map[string]*model.Session
	err      error
}

func (m *mockSessionFinderForRouter) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, nil
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T) (http.Handler, *RouterDeps) {
	t.Helper()

	reg := prometheus.NewRegistry()
	verifyLimiter := middleware.NewRateLimiter("verify", middleware.PerMinute(60))
	qrLimiter := middleware.NewRateLimiter("qr_code", middleware.PerMinute(30))
	t.Cleanup(verifyLimiter.Stop)
	t.Cleanup(qrLimiter.Stop)

	deps := &RouterDeps{
		SessionFinder: &mockSessionFinderForRouter{
			sessions: map[string]*model.Session{
				"member-session": {
					ID:        "member-session",
					Subject:   "alice",
					GivenName: "Alice",
					IsMember:  true,
					ExpiresAt: time.Now().Add(time.Hour),
				},
			},
		},
		AuthService:   &mockAuthService{},
		AuthConfig:    testAuthConfig,
		Membership:    &mockMembershipRefresher{},
		TokenIssuer:   &mockTokenIssuer{},
		QRRenderer:    &mockQRRenderer{},
		VerifyService: &mockVerifyService{},
		JoinFormURL:   "https://example.org/join",
		VerifyLimiter: verifyLimiter,
		QRCodeLimiter: qrLimiter,
		Metrics:       metrics.NewCollector(reg),
		Gatherer:      reg,
		HealthChecks: []HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error { return nil }},
		},
	}
	return NewRouter(deps), deps
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_QRCode_WithoutFetchHeader_Returns403BeforeSessionCheck(t *testing.T) {
	router, deps := createTestRouter(t)
	deps.SessionFinder.(*mockSessionFinderForRouter).err = errors.New("must not be consulted")

	req := httptest.NewRequest(http.MethodGet, "/qr-code", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "member-session"})

	w := serve(router, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_QRCode_WrongFetchHeaderValue_Returns403(t *testing.T) {
	router, _ := createTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/qr-code", nil)
	req.Header.Set("X-Fetch", "1")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "member-session"})

	if w := serve(router, req); w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_QRCode_NoSession_Returns403WithoutRedirect(t *testing.T) {
	router, _ := createTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/qr-code", nil)
	req.Header.Set("X-Fetch", "true")

	w := serve(router, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if loc := w.Header().Get("Location"); loc != "" {
		t.Errorf("fetch endpoint must not redirect, Location = %q", loc)
	}
}

func TestRouter_QRCode_Member_ReturnsNoStoreBody(t *testing.T) {
	router, _ := createTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/qr-code", nil)
	req.Header.Set("X-Fetch", "true")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "member-session"})

	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	if w.Body.String() != "base64(token-for-alice)" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRouter_QRCode_RateLimitedPerSubject(t *testing.T) {
	router, deps := createTestRouter(t)
	deps.QRCodeLimiter.Stop()
	limiter := middleware.NewRateLimiter("qr_code", middleware.RateLimiterConfig{
		Rate:            0.0001,
		Burst:           1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(limiter.Stop)
	deps.QRCodeLimiter = limiter
	router = NewRouter(deps)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/qr-code", nil)
		req.Header.Set("X-Fetch", "true")
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "member-session"})
		return req
	}

	if w := serve(router, newReq()); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := serve(router, newReq()); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestRouter_Home_NoSession_RedirectsToLoginWithNext(t *testing.T) {
	router, _ := createTestRouter(t)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/?tab=card", nil))

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	want := "/login?next=" + url.QueryEscape("/?tab=card")
	if loc := w.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func TestRouter_Home_Member_RendersLandingPageWithSecurityHeaders(t *testing.T) {
	router, _ := createTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "member-session"})

	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Alice") {
		t.Errorf("body does not contain name:\n%s", w.Body.String())
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "script-src 'self'") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
}

func TestRouter_PublicRoutes(t *testing.T) {
	router, _ := createTestRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/verify", http.StatusOK},
		{http.MethodGet, "/join", http.StatusOK},
		{http.MethodGet, "/login", http.StatusFound},
		{http.MethodGet, "/authorize?state=x", http.StatusBadRequest},
		{http.MethodPost, "/logout", http.StatusSeeOther},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/static/qr.js", http.StatusOK},
		{http.MethodGet, "/unknown", http.StatusNotFound},
		{http.MethodGet, "/logout", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(router, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRouter_Verify_NoToken_ShowsMessage(t *testing.T) {
	router, _ := createTestRouter(t)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/verify", nil))

	if !strings.Contains(w.Body.String(), "No token to verify") {
		t.Errorf("body does not contain message:\n%s", w.Body.String())
	}
}

func TestRouter_Verify_RateLimited_RendersPage(t *testing.T) {
	_, deps := createTestRouter(t)
	deps.VerifyLimiter.Stop()
	limiter := middleware.NewRateLimiter("verify", middleware.RateLimiterConfig{
		Rate:            0.0001,
		Burst:           1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(limiter.Stop)
	deps.VerifyLimiter = limiter
	router := NewRouter(deps)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/verify?token=abc", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		return req
	}

	if w := serve(router, newReq()); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", w.Code, http.StatusOK)
	}

	w := serve(router, newReq())
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if !strings.Contains(w.Body.String(), "Too many requests") {
		t.Errorf("body does not contain rate limit message:\n%s", w.Body.String())
	}
}

func TestRouter_StaticScript_FetchesQRCodeWithHeader(t *testing.T) {
	router, _ := createTestRouter(t)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/static/qr.js", nil))

	body := w.Body.String()
	if !strings.Contains(body, "'X-Fetch': 'true'") {
		t.Errorf("script should send the X-Fetch header:\n%s", body)
	}
	if !strings.Contains(body, "/qr-code") {
		t.Errorf("script should fetch /qr-code:\n%s", body)
	}
}

func TestRouter_Metrics_RecordsRequests(t *testing.T) {
	router, _ := createTestRouter(t)

	serve(router, httptest.NewRequest(http.MethodGet, "/verify", nil))
	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(w.Body.String(), "memberproof_http_status_total") {
		t.Errorf("metrics output missing http status counter:\n%s", w.Body.String())
	}
}

func TestRouter_HandlerPanic_Returns500(t *testing.T) {
	router, deps := createTestRouter(t)
	deps.VerifyService = &mockVerifyService{
		verifyFn: func(ctx context.Context, token string) (*verify.Result, error) {
			panic("boom")
		},
	}
	router = NewRouter(deps)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/verify?token=x", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
