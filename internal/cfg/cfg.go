// Package cfg holds startup configuration. Values come from flags, filled
// from EDGEGATE_* environment variables, validated once, and passed
// explicitly to components. Nothing re-reads the environment after startup.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort  int
	AdminPort int
	DevMode   bool

	AssetsDir       string
	PreloadMaxBytes int64
	IncludePatterns string
	ExcludePatterns string
	VerboseScan     bool

	ETagEnabled  bool
	GzipEnabled  bool
	GzipMinBytes int64
	GzipTypes    string

	AuthCapacity    int
	AuthWindow      time.Duration
	APICapacity     int
	APIWindow       time.Duration
	GeneralCapacity int
	GeneralWindow   time.Duration

	SiteURL      string
	ExtraOrigins string
	UpstreamURL  string

	EnablePprof     bool
	EnableTracing   bool
	EnablePyroscope bool
	OTLPEndpoint    string
	TraceSample     float64
	PyroServer      string
	PyroTenantID    string
}

// DefaultGzipTypes is the compressible MIME allowlist. Entries ending in "/"
// match by prefix, others match exactly.
const DefaultGzipTypes = "text/,application/javascript,application/json,application/xml,image/svg+xml"

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or dev console logs (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9100, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.DevMode, "dev", false, "development mode (permissive CORS, relaxed CSP, no HSTS)")

	fs.StringVar(&c.AssetsDir, "assets-dir", "./public", "root directory scanned for static assets at startup")
	fs.Int64Var(&c.PreloadMaxBytes, "preload-max-bytes", 5<<20, "max bytes to hold in memory per preloaded asset")
	fs.StringVar(&c.IncludePatterns, "include-patterns", "", "comma-separated filename globs to preload (empty = all)")
	fs.StringVar(&c.ExcludePatterns, "exclude-patterns", "", "comma-separated filename globs to exclude from preloading")
	fs.BoolVar(&c.VerboseScan, "verbose-scan", false, "log a per-file report of the asset scan")

	fs.BoolVar(&c.ETagEnabled, "etag", true, "emit and validate content ETags for preloaded assets")
	fs.BoolVar(&c.GzipEnabled, "gzip", true, "precompute gzip variants for preloaded assets")
	fs.Int64Var(&c.GzipMinBytes, "gzip-min-bytes", 1024, "byte floor below which assets are not compressed")
	fs.StringVar(&c.GzipTypes, "gzip-types", DefaultGzipTypes, "comma-separated compressible MIME allowlist (trailing / = prefix match)")

	fs.IntVar(&c.AuthCapacity, "rl-auth-capacity", 10, "rate limit capacity for auth endpoints per window")
	fs.DurationVar(&c.AuthWindow, "rl-auth-window", time.Minute, "rate limit window for auth endpoints")
	fs.IntVar(&c.APICapacity, "rl-api-capacity", 100, "rate limit capacity for API endpoints per window")
	fs.DurationVar(&c.APIWindow, "rl-api-window", time.Minute, "rate limit window for API endpoints")
	fs.IntVar(&c.GeneralCapacity, "rl-general-capacity", 200, "rate limit capacity for all other endpoints per window")
	fs.DurationVar(&c.GeneralWindow, "rl-general-window", time.Minute, "rate limit window for all other endpoints")

	fs.StringVar(&c.SiteURL, "site-url", "", "canonical site origin allowed for CORS (required outside dev mode)")
	fs.StringVar(&c.ExtraOrigins, "extra-origins", "", "comma-separated additional origins allowed for CORS")
	fs.StringVar(&c.UpstreamURL, "upstream-url", "", "application backend URL non-asset requests are forwarded to")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// SplitList splits a comma-separated config value, trimming whitespace and
// dropping empty entries.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CORSOrigins returns the production CORS allowlist: the site origin plus any
// configured extras.
func (c App) CORSOrigins() []string {
	var out []string
	if o := normalizeOrigin(c.SiteURL); o != "" {
		out = append(out, o)
	}
	for _, e := range SplitList(c.ExtraOrigins) {
		if o := normalizeOrigin(e); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func normalizeOrigin(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Asset catalog
	if c.PreloadMaxBytes < 1 {
		errs = append(errs, fmt.Errorf("PRELOAD_MAX_BYTES must be positive (got %d)", c.PreloadMaxBytes))
	}
	if c.GzipMinBytes < 0 {
		errs = append(errs, fmt.Errorf("GZIP_MIN_BYTES must be non-negative (got %d)", c.GzipMinBytes))
	}
	for _, p := range SplitList(c.IncludePatterns) {
		if _, err := path.Match(p, "probe"); err != nil {
			errs = append(errs, fmt.Errorf("invalid INCLUDE_PATTERNS glob %q: %w", p, err))
		}
	}
	for _, p := range SplitList(c.ExcludePatterns) {
		if _, err := path.Match(p, "probe"); err != nil {
			errs = append(errs, fmt.Errorf("invalid EXCLUDE_PATTERNS glob %q: %w", p, err))
		}
	}

	// Rate limits
	for _, rl := range []struct {
		name     string
		capacity int
		window   time.Duration
	}{
		{"AUTH", c.AuthCapacity, c.AuthWindow},
		{"API", c.APICapacity, c.APIWindow},
		{"GENERAL", c.GeneralCapacity, c.GeneralWindow},
	} {
		if rl.capacity < 1 {
			errs = append(errs, fmt.Errorf("RL_%s_CAPACITY must be at least 1 (got %d)", rl.name, rl.capacity))
		}
		if rl.window <= 0 {
			errs = append(errs, fmt.Errorf("RL_%s_WINDOW must be positive (got %v)", rl.name, rl.window))
		}
	}

	// CORS: production needs an explicit allowlist to echo origins from
	if !c.DevMode {
		if c.SiteURL == "" {
			errs = append(errs, fmt.Errorf("SITE_URL is required outside dev mode"))
		} else if normalizeOrigin(c.SiteURL) == "" {
			errs = append(errs, fmt.Errorf("SITE_URL must be a URL with scheme and host (got %q)", c.SiteURL))
		}
	}
	for _, e := range SplitList(c.ExtraOrigins) {
		if normalizeOrigin(e) == "" {
			errs = append(errs, fmt.Errorf("invalid EXTRA_ORIGINS entry %q", e))
		}
	}

	// Upstream
	if c.UpstreamURL != "" {
		if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("UPSTREAM_URL must be a URL (got %q)", c.UpstreamURL))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
