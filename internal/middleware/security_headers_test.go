package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	h := w.Result().Header
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options should be nosniff")
	}
	if h.Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options should be DENY")
	}
	if !strings.Contains(h.Get("Content-Security-Policy"), "img-src 'self' data:") {
		t.Errorf("CSP should allow data: images, got %q", h.Get("Content-Security-Policy"))
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should not be set when disabled")
	}
}

func TestSecurityHeadersMiddleware_HSTS(t *testing.T) {
	handler := NewSecurityHeadersMiddleware(true)(http.NotFoundHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Result().Header.Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be set when enabled")
	}
}

func TestNoStore(t *testing.T) {
	w := httptest.NewRecorder()
	NoStore(http.NotFoundHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/qr-code", nil))

	if cc := w.Result().Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}
