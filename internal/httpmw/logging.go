package httpmw

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/edgegate/edgegate/internal/log"
	"github.com/edgegate/edgegate/internal/xerrors"
)

// responseWriter wraps http.ResponseWriter to capture status and bytes written
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// support Flush if the underlying writer does.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

// AccessLog emits exactly one structured completion line per request, on
// every exit path: success, rate-limited, or recovered panic. The request id
// must already be in context (RequestID runs outside this middleware).
func AccessLog(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)

			// request-scoped logger so downstream log lines share fields
			L := base.With(
				"request_id", reqID,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
			ctx = log.WithContext(ctx, L)

			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r.WithContext(ctx))

			status := rw.status
			if status == 0 {
				status = http.StatusOK
			}

			L.Info(ctx, "http request",
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", rw.bytes,
			)
		})
	}
}
