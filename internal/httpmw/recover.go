package httpmw

import (
	"fmt"
	"net/http"

	"github.com/edgegate/edgegate/internal/crashreport"
	"github.com/edgegate/edgegate/internal/log"
	"github.com/edgegate/edgegate/internal/xerrors"
)

// Recover catches panics from anything downstream, reports them to the crash
// reporter with full request context, logs them, and serves a generic 500.
// Clients never see stack traces or internal messages; the request id and any
// headers stamped by outer middleware survive because they were set before
// the handler ran.
func Recover(L log.Logger, reporter crashreport.Reporter, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.EnsureTrace(v)
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				if onPanic != nil {
					onPanic()
				}

				ctx := r.Context()
				if reporter != nil {
					reporter.Report(ctx, err, crashreport.RequestContext{
						RequestID: RequestIDFromContext(ctx),
						Method:    r.Method,
						Path:      r.URL.Path,
						UserAgent: r.UserAgent(),
						RemoteIP:  r.RemoteAddr,
					})
				}
				L.Error(ctx, err, "panic while handling request",
					"request_id", RequestIDFromContext(ctx),
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintln(w, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
