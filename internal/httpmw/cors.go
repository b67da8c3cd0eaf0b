package httpmw

import "net/http"

// CORS stamps CORS headers on responses that have an Origin and answers
// preflight requests directly with 204, short-circuiting the rest of the
// chain. Actual requests continue to the next handler with the headers
// already set, so denials further in still carry them.
func CORS(p *SecurityPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				p.ApplyCORS(w.Header(), origin)
			}

			if IsPreflight(r) {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
