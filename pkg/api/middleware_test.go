package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tillerlabs/tiller/pkg/identity"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRequestIDMiddlewareGenerates(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if seen == "" {
		t.Fatal("no request id on context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q != context id %q", got, seen)
	}
}

func TestRequestIDMiddlewareReusesClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied-7")

	rec := httptest.NewRecorder()
	RequestIDMiddleware(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-7" {
		t.Fatalf("X-Request-ID = %q, want reuse", got)
	}
}

func TestGetRequestIDMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
}

func newTestTokens(t *testing.T) *identity.TokenManager {
	t.Helper()
	tm, err := identity.NewTokenManager([]byte("middleware-test-secret"))
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return tm
}

func TestAuthMiddlewareFailClosed(t *testing.T) {
	tm := newTestTokens(t)
	handler := NewAuthMiddleware(tm)(okHandler())

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"malformed bearer", "Bearer"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("content type = %q", ct)
			}
		})
	}
}

func TestAuthMiddlewareNilManagerRejects(t *testing.T) {
	handler := NewAuthMiddleware(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewarePublicPath(t *testing.T) {
	handler := NewAuthMiddleware(nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without auth", rec.Code)
	}
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	tm := newTestTokens(t)
	token, err := tm.Issue(identity.Principal{
		Subject: "op-7",
		Type:    identity.PrincipalHuman,
		Roles:   []string{"operator"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var principal identity.Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := identity.FromContext(r.Context())
		if !ok {
			t.Fatal("no principal on context")
		}
		principal = p
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	NewAuthMiddleware(tm)(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if principal.Subject != "op-7" {
		t.Fatalf("principal subject = %q", principal.Subject)
	}
}
