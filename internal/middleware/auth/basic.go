package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	gatewayerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/sharedctx"
)

// bodyAuthUsernameField and bodyAuthPasswordField are the fixed body keys
// the "basic" auth mode reads credentials from.
const (
	bodyAuthUsernameField = "auth"
	bodyAuthPasswordField = "authentication"
)

// BodyAuth implements the gateway's "basic" auth mode: a username and
// password are pulled out of the request body, checked against a route's
// backing table, and exchanged for a bearer token. Routes using this mode
// always answer with a token response on success, never a passthrough.
type BodyAuth struct {
	lookup     CredentialLookup
	issuer     *JWTAuth
	passwordFn PasswordFunc
}

// NewBodyAuth creates a BodyAuth that checks credentials via lookup and
// signs tokens with issuer.
func NewBodyAuth(lookup CredentialLookup, issuer *JWTAuth, passwordFn PasswordFunc) *BodyAuth {
	return &BodyAuth{lookup: lookup, issuer: issuer, passwordFn: passwordFn}
}

// TokenResponse is the body every successful body-auth request receives.
type TokenResponse struct {
	Token string `json:"token"`
}

// Authenticate reads credentials out of the request body, verifies them
// against table, and returns a signed token plus the resolved identity.
func (b *BodyAuth) Authenticate(ctx context.Context, table string, r *http.Request) (string, *sharedctx.Identity, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return "", nil, gatewayerrors.ValidationError("failed to read request body")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", nil, gatewayerrors.ValidationError("request body must be a JSON object")
	}

	username, _ := fields[bodyAuthUsernameField].(string)
	password, _ := fields[bodyAuthPasswordField].(string)
	if username == "" || password == "" {
		return "", nil, gatewayerrors.AuthError("missing auth/authentication fields")
	}

	hash, acl, err := b.lookup.Lookup(ctx, table, username)
	if err != nil {
		return "", nil, gatewayerrors.AuthError("invalid credentials")
	}
	if !VerifyPassword(b.passwordFn, hash, password) {
		return "", nil, gatewayerrors.AuthError("invalid credentials")
	}

	identity := &sharedctx.Identity{Subject: username, ACL: acl}
	token, err := b.issuer.IssueToken(identity)
	if err != nil {
		return "", nil, gatewayerrors.InternalErr("failed to issue token")
	}
	return token, identity, nil
}

// ServeHTTP runs the body-auth flow as a standalone handler, writing the
// token response directly. table is bound by the route synthesizer
// (EndpointDescriptor.DBTable).
func (b *BodyAuth) ServeHTTP(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, _, err := b.Authenticate(r.Context(), table, r)
		if err != nil {
			gwErr, ok := err.(*gatewayerrors.GatewayError)
			if !ok {
				gwErr = gatewayerrors.InternalErr(err.Error())
			}
			gwErr.WriteJSON(w)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(TokenResponse{Token: token})
	}
}
