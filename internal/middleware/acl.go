package middleware

import (
	"net/http"

	gatewayerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/sharedctx"
)

// ACL gates a route behind the given set of required role tags. A request
// passes if the authenticated identity carries at least one of them. No
// required roles means the stage is a no-op.
func ACL(required []string) Middleware {
	if len(required) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := sharedctx.FromContext(r.Context())
			if !ok {
				gatewayerrors.ForbiddenErr("no identity for ACL check").WriteJSON(w)
				return
			}

			for _, role := range required {
				if rc.Identity.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			gatewayerrors.ForbiddenErr("missing required role").WriteJSON(w)
		})
	}
}
