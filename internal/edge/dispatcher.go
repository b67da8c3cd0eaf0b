// Package edge composes the request path of the server: static assets served
// straight from the catalog, everything else through the correlation,
// security, rate-limiting and recovery middleware before reaching the
// application handler.
package edge

import (
	"net/http"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/assets"
	"github.com/edgegate/edgegate/internal/crashreport"
	"github.com/edgegate/edgegate/internal/httpmw"
	"github.com/edgegate/edgegate/internal/log"
	"github.com/edgegate/edgegate/internal/metrics"
	"github.com/edgegate/edgegate/internal/ratelimit"
	"github.com/edgegate/edgegate/internal/xerrors"
)

type Options struct {
	Logger   log.Logger
	Catalog  *assets.Catalog
	Assets   *assets.Handler
	Limiter  *ratelimit.Limiter
	Policy   *httpmw.SecurityPolicy
	Reporter crashreport.Reporter

	// App handles everything that is not a registered asset route: the
	// reverse proxy to the upstream, or a local application handler.
	App http.Handler

	// MaxBodyBytes caps request bodies on the application path. Zero
	// disables the cap.
	MaxBodyBytes int64

	// OnPanic is an optional metrics hook invoked per recovered panic.
	OnPanic func()
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Reporter == nil {
		o.Reporter = crashreport.NewLogReporter(o.Logger)
	}
	if o.App == nil {
		o.App = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream not configured", http.StatusBadGateway)
		})
	}
}

func (o *Options) validate() error {
	if o.Catalog == nil {
		return xerrors.New("edge: Catalog is required")
	}
	if o.Assets == nil {
		return xerrors.New("edge: Assets handler is required")
	}
	if o.Policy == nil {
		return xerrors.New("edge: Policy is required")
	}
	return nil
}

// Dispatcher is the root http.Handler. Asset routes bypass the middleware
// chain entirely; their headers are static and complete, and shaving the
// per-request overhead matters on the hottest path.
type Dispatcher struct {
	catalog *assets.Catalog
	assets  *assets.Handler
	app     http.Handler
}

func New(opts *Options) (*Dispatcher, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	app := opts.App
	if opts.MaxBodyBytes > 0 {
		app = httpmw.MaxBody(opts.MaxBodyBytes)(app)
	}
	if opts.Limiter != nil {
		app = rateLimit(opts.Limiter)(app)
	}

	// Chain order is load-bearing: correlation first so every later log and
	// response carries the id, then logging, then headers stamped before
	// anything can fail, recovery inside those so a 500 still carries them.
	app = httpmw.Chain(app,
		httpmw.RequestID(),
		httpmw.AccessLog(opts.Logger),
		httpmw.SecurityHeaders(opts.Policy),
		httpmw.Recover(opts.Logger, opts.Reporter, opts.OnPanic),
		httpmw.CORS(opts.Policy),
	)

	return &Dispatcher{
		catalog: opts.Catalog,
		assets:  opts.Assets,
		app:     app,
	}, nil
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if route, ok := d.catalog.Lookup(r.URL.Path); ok {
		r = r.WithContext(metrics.WithRoute(r.Context(), "asset"))
		d.assets.Serve(w, r, route)
		return
	}

	r = r.WithContext(metrics.WithRoute(r.Context(), "app"))
	d.app.ServeHTTP(w, r)
}

// Classify maps a request path to a rate-limit category. Narrower prefixes
// win: auth endpoints get the tightest budget.
func Classify(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/auth/") || path == "/api/auth" ||
		strings.HasPrefix(path, "/auth/") || path == "/auth" ||
		path == "/login" || path == "/logout":
		return ratelimit.CategoryAuth
	case strings.HasPrefix(path, "/api/") || path == "/api":
		return ratelimit.CategoryAPI
	default:
		return ratelimit.CategoryGeneral
	}
}

// rateLimit checks the request against its category budget, stamps the
// X-RateLimit-* headers on every response, and denies with 429 + Retry-After
// once the window is spent.
func rateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			category := Classify(r.URL.Path)
			id := ratelimit.Identify(r)

			res := l.Check(r.Context(), category, id)
			if res.Limit > 0 {
				ratelimit.SetHeaders(w.Header(), res)
			}
			if !res.Allowed {
				ratelimit.Deny(w, res, time.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
