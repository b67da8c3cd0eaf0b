// Package httpmw contains the HTTP middleware the edge dispatcher is
// composed from: request correlation, security/CORS header policy, panic
// recovery, request logging and body limits.
package httpmw

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ResponseRequestIDHeader is the canonical header every outbound response
// carries, whatever inbound header the id arrived on.
const ResponseRequestIDHeader = "X-Request-Id"

// inboundIDHeaders is the prioritized set of correlation headers honored on
// inbound requests.
var inboundIDHeaders = []string{
	"X-Request-Id",
	"X-Correlation-Id",
	"X-Amzn-Trace-Id",
}

type requestIDKey struct{}

// WithRequestID attaches a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext gets the request ID from context, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

// ResolveRequestID returns the id from the first recognized inbound header,
// or a freshly generated one.
func ResolveRequestID(h http.Header) string {
	for _, name := range inboundIDHeaders {
		if id := h.Get(name); id != "" {
			return id
		}
	}
	return newRequestID()
}

// RequestID middleware:
// - propagates an existing correlation id if any recognized header is present
// - otherwise generates a new one
// - stores it in context
// - echoes it back on the canonical response header
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ResolveRequestID(r.Header)
			ctx := WithRequestID(r.Context(), id)

			// include the id on the response for client/trace correlation
			w.Header().Set(ResponseRequestIDHeader, id)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// newRequestID builds a timestamp-plus-random id: sortable by arrival and
// collision-resistant for practical purposes.
func newRequestID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}
