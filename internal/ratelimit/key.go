package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// AnonymousKey is used when a request carries no identity at all.
const AnonymousKey = "anonymous"

// KeyFor derives the identity a request is limited under: the visitor
// cookie when present, then the client IP, then AnonymousKey.
func KeyFor(r *http.Request, visitorCookie string) string {
	if visitorCookie != "" {
		if c, err := r.Cookie(visitorCookie); err == nil && c.Value != "" {
			return "v:" + c.Value
		}
	}
	if ip := ClientIP(r); ip != "" {
		return "ip:" + ip
	}
	return AnonymousKey
}

// ClientIP returns the first X-Forwarded-For hop, falling back to
// RemoteAddr without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may lack a port (tests, some proxies).
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
