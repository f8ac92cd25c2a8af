package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/sharedctx"
)

func TestJWTAuthIssueAndVerify(t *testing.T) {
	auth, err := NewJWTAuth(config.AuthConfig{Secret: "test-secret-key", Issuer: "test-issuer", Algorithm: "HS256", TTLSeconds: 3600})
	if err != nil {
		t.Fatalf("failed to create JWT auth: %v", err)
	}

	token, err := auth.IssueToken(&sharedctx.Identity{Subject: "user-123", ACL: []string{"publicAccess"}})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	identity, err := auth.Authenticate(req)
	if err != nil {
		t.Fatalf("expected successful auth, got error: %v", err)
	}
	if identity.Subject != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", identity.Subject)
	}
	if !identity.HasRole("publicAccess") {
		t.Error("expected identity to carry publicAccess role")
	}
}

func TestJWTAuthInvalidToken(t *testing.T) {
	auth, _ := NewJWTAuth(config.AuthConfig{Secret: "test-secret", Algorithm: "HS256", TTLSeconds: 3600})

	tests := []struct {
		name       string
		authHeader string
	}{
		{name: "no header", authHeader: ""},
		{name: "invalid format", authHeader: "InvalidToken"},
		{name: "malformed token", authHeader: "Bearer invalid.token.here"},
		{name: "wrong secret", authHeader: "Bearer " + generateTokenWithSecret("wrong-secret")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			if _, err := auth.Authenticate(req); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestJWTAuthExpiredToken(t *testing.T) {
	auth, _ := NewJWTAuth(config.AuthConfig{Secret: "test-secret", Algorithm: "HS256", TTLSeconds: 3600})

	// NewJWTAuth replaces a non-positive TTL with its one-hour default, so
	// the expired token is signed by hand with an exp an hour in the past.
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := auth.Authenticate(req); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestJWTAuthIssuerValidation(t *testing.T) {
	auth, _ := NewJWTAuth(config.AuthConfig{Secret: "test-secret", Issuer: "valid-issuer", Algorithm: "HS256", TTLSeconds: 3600})

	token := generateTokenWithIssuer("test-secret", "wrong-issuer")

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := auth.Authenticate(req); err == nil {
		t.Error("expected error for wrong issuer")
	}
}

func TestJWTMiddleware(t *testing.T) {
	auth, _ := NewJWTAuth(config.AuthConfig{Secret: "test-secret", Algorithm: "HS256", TTLSeconds: 3600})

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}

	token, _ := auth.IssueToken(&sharedctx.Identity{Subject: "user-123"})

	rc := sharedctx.NewRequestContext("req-1", "/api/test")
	req = httptest.NewRequest("GET", "/api/test", nil)
	req = sharedctx.WithRequestContext(req, rc)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rc.Identity == nil || rc.Identity.Subject != "user-123" {
		t.Error("expected identity to be attached to the shared request context")
	}
}

func generateTokenWithSecret(secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte(secret))
	return tokenString
}

func generateTokenWithIssuer(secret, issuer string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-123",
		"iss": issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte(secret))
	return tokenString
}
