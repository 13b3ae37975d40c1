// ABOUTME: Tests for the HTTP authentication middleware
// ABOUTME: Verifies header parsing, rejection responses and caller propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := FromContext(r.Context())
		if c == nil {
			http.Error(w, "no caller", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(c.Subject))
	})
}

func TestMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	valid, err := verifier.Generate("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	expired, _ := verifier.Generate("user-42", -time.Minute)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "user-42"},
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "empty token"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
	}

	handler := Middleware(verifier, nil)(callerEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c := FromContext(req.Context()); c != nil {
		t.Errorf("FromContext() = %+v, want nil", c)
	}
}
