package assets

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/klauspost/compress/gzip"

	"github.com/edgegate/edgegate/internal/cfg"
	"github.com/edgegate/edgegate/internal/log"
)

type Options struct {
	Logger log.Logger

	// MaxPreloadBytes is the in-memory ceiling per asset; larger files are
	// registered on demand.
	MaxPreloadBytes int64

	// Include/Exclude are filename-only globs. Empty Include means all files
	// are eligible; a match on Exclude wins regardless.
	Include []string
	Exclude []string

	GzipEnabled  bool
	GzipMinBytes int64
	GzipTypes    []string

	ETagEnabled bool

	// Verbose logs a per-file report of the scan.
	Verbose bool
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaxPreloadBytes == 0 {
		o.MaxPreloadBytes = 5 << 20
	}
	if o.GzipMinBytes == 0 {
		o.GzipMinBytes = 1024
	}
	if o.GzipTypes == nil {
		o.GzipTypes = cfg.SplitList(cfg.DefaultGzipTypes)
	}
}

// Catalog is the immutable route table built once at startup. Concurrent
// reads need no synchronization.
type Catalog struct {
	routes  map[string]Route
	loaded  []Metadata
	skipped []Metadata
}

// Lookup returns the route registered for urlPath, if any.
func (c *Catalog) Lookup(urlPath string) (Route, bool) {
	r, ok := c.routes[urlPath]
	return r, ok
}

func (c *Catalog) Len() int { return len(c.routes) }

// Loaded lists preloaded assets; Skipped lists files registered on demand.
func (c *Catalog) Loaded() []Metadata  { return c.loaded }
func (c *Catalog) Skipped() []Metadata { return c.skipped }

// PreloadedBytes is the total raw size held in memory.
func (c *Catalog) PreloadedBytes() int64 {
	var n int64
	for _, m := range c.loaded {
		n += m.Size
	}
	return n
}

// Scan walks rootDir once and classifies every non-empty file as preloaded or
// on-demand. Per-file errors are logged and skipped; a missing or unreadable
// root yields an empty catalog so the server still starts and all paths fall
// through to the application handler.
func Scan(ctx context.Context, rootDir string, opts *Options) *Catalog {
	opts.setDefaults()
	L := opts.Logger

	c := &Catalog{routes: make(map[string]Route)}

	root, err := filepath.Abs(rootDir)
	if err == nil {
		_, err = os.Stat(root)
	}
	if err != nil {
		L.Warn(ctx, "asset root unavailable, serving no static assets",
			"root", rootDir, "error", err)
		return c
	}

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			L.Warn(ctx, "asset scan error, skipping entry", "path", p, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			L.Warn(ctx, "asset stat failed, skipping file", "path", p, "error", err)
			return nil
		}
		size := info.Size()
		if size == 0 {
			// zero-byte files get no route at all
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		route := "/" + filepath.ToSlash(rel)
		mt := mimeFor(d.Name())
		meta := Metadata{Route: route, Size: size, MIMEType: mt}

		if c.eligible(d.Name(), opts) && size <= opts.MaxPreloadBytes {
			if asset, ok := c.preload(ctx, p, mt, opts); ok {
				c.routes[route] = Preloaded{Asset: asset}
				c.loaded = append(c.loaded, meta)
				if opts.Verbose {
					L.Info(ctx, "preloaded asset", "route", route, "size", size,
						"mime", mt, "gzip", asset.HasGzip())
				}
				return nil
			}
			// read failed; fall through to on-demand so the route still works
		}

		c.routes[route] = OnDemand{Path: p, MIMEType: mt}
		c.skipped = append(c.skipped, meta)
		if opts.Verbose {
			L.Info(ctx, "registered on-demand asset", "route", route, "size", size, "mime", mt)
		}
		return nil
	})
	if walkErr != nil {
		L.Warn(ctx, "asset scan aborted", "root", root, "error", walkErr)
	}

	L.Info(ctx, "asset catalog built",
		"root", root,
		"preloaded", len(c.loaded),
		"on_demand", len(c.skipped),
		"preloaded_bytes", c.PreloadedBytes(),
	)
	return c
}

func (c *Catalog) eligible(name string, opts *Options) bool {
	for _, pat := range opts.Exclude {
		if ok, _ := path.Match(pat, name); ok {
			return false
		}
	}
	if len(opts.Include) == 0 {
		return true
	}
	for _, pat := range opts.Include {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// preload reads the file into memory and computes the gzip variant and ETag.
// Returns false if the file could not be read; is-a-directory errors are
// silently skipped, everything else is logged.
func (c *Catalog) preload(ctx context.Context, diskPath, mimeType string, opts *Options) (*Asset, bool) {
	raw, err := os.ReadFile(diskPath)
	if err != nil {
		if !errors.Is(err, syscall.EISDIR) {
			opts.Logger.Warn(ctx, "asset read failed, skipping preload",
				"path", diskPath, "error", err)
		}
		return nil, false
	}

	a := &Asset{raw: raw, mimeType: mimeType}

	if opts.GzipEnabled && int64(len(raw)) >= opts.GzipMinBytes && compressible(mimeType, opts.GzipTypes) {
		if gz, err := gzipBytes(raw); err != nil {
			// compression failure is non-fatal: serve raw only
			opts.Logger.Warn(ctx, "gzip precompute failed", "path", diskPath, "error", err)
		} else if len(gz) < len(raw) {
			a.gzipped = gz
		}
	}

	if opts.ETagEnabled {
		a.etag = contentETag(raw)
	}

	return a, true
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
