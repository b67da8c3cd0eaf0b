// Package crashreport defines the crash-reporting collaborator the edge
// dispatcher hands unhandled errors to. Reporting is fire-and-forget: an
// implementation must never panic into the response path.
package crashreport

import (
	"context"

	"github.com/edgegate/edgegate/internal/log"
)

// RequestContext is the request metadata attached to a report.
type RequestContext struct {
	RequestID string
	Method    string
	Path      string
	UserAgent string
	RemoteIP  string
}

type Reporter interface {
	Report(ctx context.Context, err error, rc RequestContext)
}

// LogReporter writes reports to the structured log. It stands in for an
// external collector in deployments that don't configure one.
type LogReporter struct {
	Logger log.Logger
}

func NewLogReporter(l log.Logger) *LogReporter {
	if l == nil {
		l = log.Nop()
	}
	return &LogReporter{Logger: l.With("component", "crashreport")}
}

func (r *LogReporter) Report(ctx context.Context, err error, rc RequestContext) {
	// a reporter failure must never break the response path
	defer func() { _ = recover() }()

	r.Logger.Error(ctx, err, "crash report",
		"request_id", rc.RequestID,
		"method", rc.Method,
		"path", rc.Path,
		"user_agent", rc.UserAgent,
		"remote_ip", rc.RemoteIP,
	)
}

// Nop discards all reports.
type Nop struct{}

func (Nop) Report(context.Context, error, RequestContext) {}
