package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the request's client IP, preferring the first
// hop recorded in X-Forwarded-For / X-Real-IP over RemoteAddr so a
// gateway sitting behind a load balancer still keys rate limits and logs
// by the real client.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
