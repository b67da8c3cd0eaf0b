package assets

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/edgegate/edgegate/internal/log"
)

// Preloaded assets are build-time-hashed, so clients may cache them forever.
// On-demand content can change between requests and gets a short lifetime.
const (
	immutableCacheControl = "public, max-age=31536000, immutable"
	onDemandCacheControl  = "public, max-age=3600"
)

type ServeOptions struct {
	Logger      log.Logger
	ETagEnabled bool

	// OnServed is an optional metrics hook: kind is "preloaded" or
	// "on_demand", status the HTTP status written.
	OnServed func(kind string, status int)
}

// Handler serves one registered asset route.
type Handler struct {
	opts ServeOptions
}

func NewHandler(opts ServeOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Handler{opts: opts}
}

// Serve writes the response for a matched route. Asset routes answer GET and
// HEAD only; headers are complete and static, so no downstream middleware is
// involved.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, route Route) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch v := route.(type) {
	case Preloaded:
		h.servePreloaded(w, r, v.Asset)
	case OnDemand:
		h.serveOnDemand(w, r, v)
	}
}

func (h *Handler) servePreloaded(w http.ResponseWriter, r *http.Request, a *Asset) {
	etag := ""
	if h.opts.ETagEnabled {
		etag = a.ETag()
	}

	// conditional short-circuit: exact validator match, empty body, ETag only
	if etag != "" && r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		h.served("preloaded", http.StatusNotModified)
		return
	}

	useGzip := a.HasGzip() && acceptsGzip(r)

	var body []byte
	if useGzip {
		body = a.GzipBytes()
		w.Header().Set("Content-Encoding", "gzip")
	} else {
		body = a.RawBytes()
	}

	w.Header().Set("Content-Type", a.MIMEType())
	w.Header().Set("Cache-Control", immutableCacheControl)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
	h.served("preloaded", http.StatusOK)
}

// serveOnDemand streams the file from disk. No ETag or conditional support:
// content may legitimately change between requests.
func (h *Handler) serveOnDemand(w http.ResponseWriter, r *http.Request, route OnDemand) {
	f, err := os.Open(route.Path)
	if err != nil {
		status := http.StatusInternalServerError
		if os.IsNotExist(err) {
			status = http.StatusNotFound
		}
		h.opts.Logger.Warn(r.Context(), "on-demand asset open failed",
			"path", route.Path, "error", err)
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, http.StatusText(status), status)
		h.served("on_demand", status)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.opts.Logger.Warn(r.Context(), "on-demand asset stat failed",
			"path", route.Path, "error", err)
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		h.served("on_demand", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", route.MIMEType)
	w.Header().Set("Cache-Control", onDemandCacheControl)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := io.Copy(w, f); err != nil {
			// headers already sent; nothing to do but note it
			h.opts.Logger.Warn(r.Context(), "on-demand asset stream interrupted",
				"path", route.Path, "error", err)
		}
	}
	h.served("on_demand", http.StatusOK)
}

func (h *Handler) served(kind string, status int) {
	if h.opts.OnServed != nil {
		h.opts.OnServed(kind, status)
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc = strings.TrimSpace(enc)
		if enc == "gzip" || strings.HasPrefix(enc, "gzip;") {
			return true
		}
	}
	return false
}
