package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgegate/edgegate/internal/assets"
	"github.com/edgegate/edgegate/internal/cfg"
	"github.com/edgegate/edgegate/internal/crashreport"
	"github.com/edgegate/edgegate/internal/edge"
	"github.com/edgegate/edgegate/internal/health"
	"github.com/edgegate/edgegate/internal/httpmw"
	"github.com/edgegate/edgegate/internal/httpserver"
	"github.com/edgegate/edgegate/internal/log"
	"github.com/edgegate/edgegate/internal/metrics"
	"github.com/edgegate/edgegate/internal/opshttp"
	"github.com/edgegate/edgegate/internal/otelx"
	"github.com/edgegate/edgegate/internal/prof"
	"github.com/edgegate/edgegate/internal/ratelimit"
	v "github.com/edgegate/edgegate/internal/version"
)

// maxBodyBytes caps request bodies on the proxied application path.
const maxBodyBytes = 1 << 20 // 1 MB

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix EDGEGATE_ and validate
	cfg.FillFromEnv(flag.CommandLine, "EDGEGATE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(&log.Options{
		App:             vi.AppName,
		Version:         vi.Version,
		Commit:          vi.Commit,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"dev_mode", conf.DevMode,
		"assets_dir", conf.AssetsDir,
		"upstream_url", conf.UpstreamURL,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       vi.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   vi.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion("server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// Scan the asset directory before accepting any traffic: the catalog is
	// immutable afterwards, so everything the edge serves from memory is
	// decided right here.
	catalog := assets.Scan(ctx, conf.AssetsDir, &assets.Options{
		Logger:          L,
		MaxPreloadBytes: conf.PreloadMaxBytes,
		Include:         cfg.SplitList(conf.IncludePatterns),
		Exclude:         cfg.SplitList(conf.ExcludePatterns),
		GzipEnabled:     conf.GzipEnabled,
		GzipMinBytes:    conf.GzipMinBytes,
		GzipTypes:       cfg.SplitList(conf.GzipTypes),
		ETagEnabled:     conf.ETagEnabled,
		Verbose:         conf.VerboseScan,
	})
	m.SetPreloadedAssets(len(catalog.Loaded()), catalog.PreloadedBytes())

	assetHandler := assets.NewHandler(assets.ServeOptions{
		Logger:      L,
		ETagEnabled: conf.ETagEnabled,
		OnServed:    m.IncAssetServed,
	})

	// Rate limiter with per-category budgets from config
	limiter := ratelimit.New(ctx, map[string]ratelimit.Category{
		ratelimit.CategoryAuth:    {Capacity: conf.AuthCapacity, Window: conf.AuthWindow},
		ratelimit.CategoryAPI:     {Capacity: conf.APICapacity, Window: conf.APIWindow},
		ratelimit.CategoryGeneral: {Capacity: conf.GeneralCapacity, Window: conf.GeneralWindow},
	},
		ratelimit.WithOnDenied(func(category, _ string) {
			m.IncRateLimitDenied(category)
		}),
	)

	policy := &httpmw.SecurityPolicy{
		Dev:            conf.DevMode,
		AllowedOrigins: conf.CORSOrigins(),
	}

	// Application path: reverse proxy when an upstream is configured
	var app http.Handler
	if conf.UpstreamURL != "" {
		target, err := url.Parse(conf.UpstreamURL)
		if err != nil {
			L.Error(ctx, err, "invalid upstream url", "upstream_url", conf.UpstreamURL)
			os.Exit(1)
		}
		app = edge.NewUpstreamProxy(target, L)
	}

	dispatcher, err := edge.New(&edge.Options{
		Logger:       L,
		Catalog:      catalog,
		Assets:       assetHandler,
		Limiter:      limiter,
		Policy:       policy,
		Reporter:     crashreport.NewLogReporter(L),
		App:          app,
		MaxBodyBytes: maxBodyBytes,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to build edge dispatcher")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness: shutdown gate plus a scanned catalog
	readiness := health.All(
		gate.Probe(),
		health.Fixed(catalog.Len() > 0 || conf.UpstreamURL != "", "no assets and no upstream to serve"),
	)

	// start public http server
	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:        L,
		Port:          conf.HTTPPort,
		Dispatcher:    dispatcher,
		MetricsMW:     m.Middleware,
		Health:        health.Fixed(true, ""),
		Readiness:     readiness,
		EnableTracing: conf.EnableTracing,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks and pprof
	// the guard middleware rejects public source addresses in case the
	// network policy in front of this port is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections before stopping the listeners
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, sleeping for in-flight and load balancer health checks to drain")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
