package httpmw

import (
	"net/http"
	"strings"
)

// SecurityPolicy computes CORS and hardening headers per environment.
// Construct once at startup from validated config; methods are safe for
// concurrent use.
type SecurityPolicy struct {
	// Dev relaxes CORS to reflect any origin and loosens the CSP for local
	// hot-reload tooling. HSTS is only emitted outside dev.
	Dev bool

	// AllowedOrigins is the production CORS allowlist: the site origin plus
	// configured extras.
	AllowedOrigins []string
}

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Accept, Authorization, Content-Type, X-Request-Id"
	corsMaxAge       = "86400"
)

// CORSHeaders returns the CORS headers for the given request origin.
//
// In production the origin is echoed back, with credentials allowed, only if
// it is present in the allowlist; a non-allowlisted origin gets no
// Access-Control-Allow-Origin header at all and the browser blocks the
// cross-origin read. Dev mode reflects any origin to avoid local tooling
// friction. Allow-Methods/Headers/Max-Age are always set.
func (p *SecurityPolicy) CORSHeaders(origin string) map[string]string {
	h := map[string]string{
		"Access-Control-Allow-Methods": corsAllowMethods,
		"Access-Control-Allow-Headers": corsAllowHeaders,
		"Access-Control-Max-Age":       corsMaxAge,
	}

	if origin == "" {
		return h
	}
	if p.Dev {
		h["Access-Control-Allow-Origin"] = origin
		h["Access-Control-Allow-Credentials"] = "true"
		return h
	}
	for _, allowed := range p.AllowedOrigins {
		if origin == allowed {
			h["Access-Control-Allow-Origin"] = origin
			h["Access-Control-Allow-Credentials"] = "true"
			break
		}
	}
	return h
}

// SecurityHeaders returns the static hardening headers for this environment.
func (p *SecurityPolicy) SecurityHeaders() map[string]string {
	h := map[string]string{
		// Old clickjacking protection - dont allow embedding in frames
		"X-Frame-Options": "DENY",

		// Disable MIME type sniffing for integrity/security
		"X-Content-Type-Options": "nosniff",

		// Referrer policy to control information sent in Referer header
		"Referrer-Policy": "strict-origin-when-cross-origin",

		// Permissions policy to disable various powerful (in)security features
		"Permissions-Policy": "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()",

		"Content-Security-Policy": p.csp(),
	}

	// Require HTTPS for one year including subdomains; never in dev where
	// everything runs over plain http
	if !p.Dev {
		h["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}

	return h
}

// csp builds the environment-specific Content-Security-Policy. Production is
// a tight allowlist of self plus the first-party origins the app talks to;
// dev admits local hot-reload origins and websockets.
func (p *SecurityPolicy) csp() string {
	if p.Dev {
		return strings.Join([]string{
			"default-src 'self'",
			"script-src 'self' 'unsafe-inline' 'unsafe-eval' http://localhost:* http://127.0.0.1:*",
			"style-src 'self' 'unsafe-inline' http://localhost:* http://127.0.0.1:*",
			"connect-src 'self' ws: http://localhost:* http://127.0.0.1:*",
			"img-src 'self' data: blob:",
			"frame-ancestors 'none'",
		}, "; ")
	}

	firstParty := strings.Join(p.AllowedOrigins, " ")
	join := func(directive string) string {
		if firstParty == "" {
			return directive
		}
		return directive + " " + firstParty
	}
	return strings.Join([]string{
		"default-src 'self'",
		join("script-src 'self'"),
		join("style-src 'self'"),
		join("connect-src 'self'"),
		"img-src 'self' data:",
		"font-src 'self'",
		"base-uri 'self'",
		"form-action 'self'",
		"frame-ancestors 'none'",
		"object-src 'none'",
	}, "; ")
}

// Apply merges the hardening headers into h. The policy itself is never
// mutated.
func (p *SecurityPolicy) Apply(h http.Header) {
	for k, v := range p.SecurityHeaders() {
		h.Set(k, v)
	}
}

// ApplyCORS merges CORS headers for the given origin into h.
func (p *SecurityPolicy) ApplyCORS(h http.Header, origin string) {
	for k, v := range p.CORSHeaders(origin) {
		h.Set(k, v)
	}
}

// SecurityHeaders is middleware that stamps the hardening headers on every
// response before the handler runs, so denials and errors carry them too.
func SecurityHeaders(p *SecurityPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p.Apply(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}

// IsPreflight reports whether r is a CORS preflight request.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Access-Control-Request-Method") != ""
}
