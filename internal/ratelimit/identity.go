package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Identify resolves the client identifier counted by the limiter.
//
// Priority: first hop of X-Forwarded-For, then X-Real-IP, then the edge
// proxy's CF-Connecting-IP, then the socket address. Requests with none of
// those (local traffic, tests) fall back to a composite of user agent,
// method and path so even anonymous traffic gets a stable, if coarse,
// identity.
func Identify(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first := xf
		if i := strings.IndexByte(xf, ','); i >= 0 {
			first = xf[:i]
		}
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}

	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); net.ParseIP(ip) != nil {
		return ip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}

	return r.UserAgent() + "|" + r.Method + "|" + r.URL.Path
}
