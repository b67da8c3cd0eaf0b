package httpserver

import (
	"net/http"

	"github.com/edgegate/edgegate/internal/health"
	"github.com/edgegate/edgegate/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Dispatcher handles everything the router doesn't: assets and the
	// application path, with its own middleware chain.
	Dispatcher http.Handler

	// MetricsMW wraps the whole router for prometheus instrumentation.
	MetricsMW func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	// EnableTracing wraps the handler in the otelhttp server span.
	EnableTracing bool
}
