package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wudi/gateway/internal/config"
	gatewayerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/middleware"
	"github.com/wudi/gateway/internal/sharedctx"
)

// JWTAuth issues and verifies the bearer tokens used by the token and
// basic auth modes (username_password issues no token). One instance is shared across every
// route since signing material is process-wide (AuthConfig), not
// per-route.
type JWTAuth struct {
	secret     []byte
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	issuer     string
	algorithm  string
	ttl        time.Duration
	keyFunc    jwt.Keyfunc
}

// NewJWTAuth builds a JWTAuth from the process-wide signing config.
func NewJWTAuth(cfg config.AuthConfig) (*JWTAuth, error) {
	a := &JWTAuth{
		issuer:    cfg.Issuer,
		algorithm: cfg.Algorithm,
		ttl:       time.Duration(cfg.TTLSeconds) * time.Second,
	}
	if a.algorithm == "" {
		a.algorithm = "HS256"
	}
	if a.ttl <= 0 {
		a.ttl = time.Hour
	}

	switch {
	case strings.HasPrefix(a.algorithm, "HS"):
		a.secret = []byte(cfg.Secret)
		a.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		}

	case strings.HasPrefix(a.algorithm, "RS"):
		if cfg.PublicKey != "" {
			pub, err := parseRSAPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			a.publicKey = pub
		}
		if cfg.PrivateKey != "" {
			priv, err := parseRSAPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			a.privateKey = priv
			if a.publicKey == nil {
				a.publicKey = &priv.PublicKey
			}
		}
		a.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.publicKey, nil
		}

	default:
		return nil, fmt.Errorf("unsupported jwt algorithm: %s", a.algorithm)
	}

	return a, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an RSA key")
	}
	return rsaPub, nil
}

func parseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an RSA key")
	}
	return rsaKey, nil
}

// IssueToken signs a bearer token carrying the identity's subject and ACL,
// valid for the configured TTL.
func (a *JWTAuth) IssueToken(identity *sharedctx.Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity.Subject,
		"acl": identity.ACL,
		"iat": now.Unix(),
		"exp": now.Add(a.ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}

	var method jwt.SigningMethod
	var key interface{}
	switch {
	case strings.HasPrefix(a.algorithm, "HS"):
		method = jwt.GetSigningMethod(a.algorithm)
		key = a.secret
	case strings.HasPrefix(a.algorithm, "RS"):
		if a.privateKey == nil {
			return "", fmt.Errorf("no private key configured for RSA signing")
		}
		method = jwt.GetSigningMethod(a.algorithm)
		key = a.privateKey
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", a.algorithm)
	}

	return jwt.NewWithClaims(method, claims).SignedString(key)
}

// Authenticate verifies the bearer token carried in the request and
// resolves it to an identity.
func (a *JWTAuth) Authenticate(r *http.Request) (*sharedctx.Identity, error) {
	tokenString := a.extractToken(r)
	if tokenString == "" {
		return nil, gatewayerrors.AuthError("bearer token not provided")
	}

	token, err := jwt.Parse(tokenString, a.keyFunc)
	if err != nil {
		return nil, gatewayerrors.AuthError(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, gatewayerrors.AuthError("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gatewayerrors.AuthError("invalid token claims")
	}

	if a.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.issuer {
			return nil, gatewayerrors.AuthError("invalid token issuer")
		}
	}

	subject, _ := claims.GetSubject()

	var acl []string
	if raw, ok := claims["acl"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				acl = append(acl, s)
			}
		}
	}

	return &sharedctx.Identity{Subject: subject, ACL: acl}, nil
}

// extractToken pulls the bearer token out of the Authorization header.
func (a *JWTAuth) extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return ""
}

// Middleware verifies the bearer token and attaches the resulting
// identity to the request's shared context. Used for auth mode "token".
func (a *JWTAuth) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.Authenticate(r)
			if err != nil {
				gwErr := err.(*gatewayerrors.GatewayError)
				w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
				gwErr.WriteJSON(w)
				return
			}

			if rc, ok := sharedctx.FromContext(r.Context()); ok {
				rc.Identity = identity
			}
			next.ServeHTTP(w, r)
		})
	}
}
