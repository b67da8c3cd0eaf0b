// Package httpserver owns the public listener: the chi router for the
// operational routes, the edge dispatcher for everything else, and the
// start/stop lifecycle.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edgegate/edgegate/internal/health"
	"github.com/edgegate/edgegate/internal/httpmw"
	"github.com/edgegate/edgegate/internal/log"
	"github.com/edgegate/edgegate/internal/version"
	"github.com/edgegate/edgegate/internal/xerrors"
)

// NewHandler builds an HTTP handler with routes + middleware
// main() owns *http.Server so it can do graceful shutdown
func NewHandler(opts *Options) http.Handler {
	r := chi.NewRouter()

	// Register health routes at /-/healthy and /-/ready if probes provided
	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	r.Get("/-/version", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(version.Get())
	})

	// Everything else belongs to the dispatcher: assets and the app path.
	if opts.Dispatcher != nil {
		r.NotFound(opts.Dispatcher.ServeHTTP)
		r.MethodNotAllowed(opts.Dispatcher.ServeHTTP)
	}

	// Middleware (outermost first in wrapping order)
	var h http.Handler = r

	// Metrics middleware for prometheus instrumentation
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	if opts.EnableTracing {
		// add trace-id headers to any requests with a recording trace
		h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

		h = otelhttp.NewHandler(
			h,
			"http.server",
			otelhttp.WithFilter(func(req *http.Request) bool {
				return shouldTrace(req.URL.Path)
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
				return req.Method + " " + req.URL.Path
			}),
			otelhttp.WithPublicEndpointFn(func(req *http.Request) bool { return true }),
		)
	}

	return h
}

// shouldTrace filters span creation: no health checks, no static asset
// extensions, nothing a scraper hits every few seconds.
func shouldTrace(p string) bool {
	if p == "/-/healthy" || p == "/-/ready" || p == "/-/version" {
		return false
	}
	if p == "/favicon.ico" || p == "/favicon.svg" || p == "/robots.txt" {
		return false
	}

	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}

	return true
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	// Port 0 binds an ephemeral port; config supplies the real default.
	addr := fmt.Sprintf(":%d", opts.Port)

	handler := NewHandler(opts)
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
