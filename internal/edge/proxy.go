package edge

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/edgegate/edgegate/internal/log"
)

// NewUpstreamProxy builds the reverse proxy for the application upstream.
// The proxy strips hop-by-hop headers itself; we add the forwarding headers
// the upstream expects and translate dial failures into a clean 502.
func NewUpstreamProxy(target *url.URL, L log.Logger) http.Handler {
	if L == nil {
		L = log.Nop()
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		if id := r.Header.Get("X-Request-Id"); id == "" {
			// shouldn't happen behind the dispatcher, but keep the upstream
			// from seeing requests without correlation
			r.Header.Set("X-Request-Id", "edge-unset")
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		L.Error(r.Context(), err, "upstream proxy error",
			"upstream", target.String(),
			"path", r.URL.Path,
		)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	return proxy
}
