package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/wudi/gateway/internal/config"
)

type fakeLookup struct {
	hash string
	acl  []string
	err  error
}

func (f *fakeLookup) Lookup(ctx context.Context, table, username string) (string, []string, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.hash, f.acl, nil
}

func TestBodyAuthSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	issuer, _ := NewJWTAuth(config.AuthConfig{Secret: "k", Algorithm: "HS256", TTLSeconds: 3600})
	ba := NewBodyAuth(&fakeLookup{hash: string(hash), acl: []string{"admin"}}, issuer, PasswordBcrypt)

	req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"auth":"alice","authentication":"s3cret"}`))
	token, identity, err := ba.Authenticate(req.Context(), "users", req)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if token == "" {
		t.Error("expected non-empty token")
	}
	if identity.Subject != "alice" || !identity.HasRole("admin") {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestBodyAuthWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	issuer, _ := NewJWTAuth(config.AuthConfig{Secret: "k", Algorithm: "HS256", TTLSeconds: 3600})
	ba := NewBodyAuth(&fakeLookup{hash: string(hash)}, issuer, PasswordBcrypt)

	req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"auth":"alice","authentication":"wrong"}`))
	if _, _, err := ba.Authenticate(req.Context(), "users", req); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestBodyAuthMissingFields(t *testing.T) {
	issuer, _ := NewJWTAuth(config.AuthConfig{Secret: "k", Algorithm: "HS256", TTLSeconds: 3600})
	ba := NewBodyAuth(&fakeLookup{}, issuer, PasswordBcrypt)

	req := httptest.NewRequest("POST", "/login", strings.NewReader(`{}`))
	if _, _, err := ba.Authenticate(req.Context(), "users", req); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestBodyAuthSHA256(t *testing.T) {
	issuer, _ := NewJWTAuth(config.AuthConfig{Secret: "k", Algorithm: "HS256", TTLSeconds: 3600})
	sum := sha256.Sum256([]byte("s3cret"))
	stored := hex.EncodeToString(sum[:])
	ba := NewBodyAuth(&fakeLookup{hash: stored}, issuer, PasswordSHA256)

	req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"auth":"bob","authentication":"s3cret"}`))
	if _, _, err := ba.Authenticate(req.Context(), "users", req); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestBodyAuthServeHTTP(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	issuer, _ := NewJWTAuth(config.AuthConfig{Secret: "k", Algorithm: "HS256", TTLSeconds: 3600})
	ba := NewBodyAuth(&fakeLookup{hash: string(hash)}, issuer, PasswordBcrypt)

	req := httptest.NewRequest("POST", "/login", strings.NewReader(`{"auth":"alice","authentication":"s3cret"}`))
	rr := httptest.NewRecorder()
	ba.ServeHTTP("users")(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "token") {
		t.Errorf("expected token field in response, got %s", rr.Body.String())
	}
}
