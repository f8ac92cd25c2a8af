package auth

import (
	"net/http"

	gatewayerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/middleware"
	"github.com/wudi/gateway/internal/sharedctx"
)

// HeaderAuth implements auth mode "username_password": a standard HTTP
// Basic Authorization header checked against a route's backing table on
// every request, no token issued. This supplements the body-based
// "basic" mode for routes fronting clients that can't hold a token
// between requests.
type HeaderAuth struct {
	lookup     CredentialLookup
	passwordFn PasswordFunc
	table      string
	realm      string
}

// NewHeaderAuth creates a HeaderAuth bound to one route's backing table.
func NewHeaderAuth(lookup CredentialLookup, table string, passwordFn PasswordFunc) *HeaderAuth {
	return &HeaderAuth{lookup: lookup, passwordFn: passwordFn, table: table, realm: "gateway"}
}

// Middleware verifies the Basic credentials on every request and attaches
// the resolved identity to the request's shared context.
func (h *HeaderAuth) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
				gatewayerrors.AuthError("basic credentials not provided").WriteJSON(w)
				return
			}

			hash, acl, err := h.lookup.Lookup(r.Context(), h.table, username)
			if err != nil || !VerifyPassword(h.passwordFn, hash, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
				gatewayerrors.AuthError("invalid credentials").WriteJSON(w)
				return
			}

			if rc, ok := sharedctx.FromContext(r.Context()); ok {
				rc.Identity = &sharedctx.Identity{Subject: username, ACL: acl}
			}
			next.ServeHTTP(w, r)
		})
	}
}
