// Package assets builds the static asset catalog at startup and serves it.
//
// Every non-empty file under the configured root gets a route. Small eligible
// files are preloaded: raw bytes held in memory with an optional precomputed
// gzip variant and a content ETag. Everything else is served on demand,
// streamed from disk per request.
package assets

import (
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/zeebo/blake3"
)

// Metadata describes one scanned file. Used for classification decisions and
// the verbose scan report only.
type Metadata struct {
	Route    string
	Size     int64
	MIMEType string
}

// Asset is an immutable preloaded file. Buffers are owned exclusively by the
// catalog; accessors hand out copies so no caller can mutate shared state.
type Asset struct {
	raw      []byte
	gzipped  []byte
	etag     string
	mimeType string
}

func (a *Asset) Size() int64     { return int64(len(a.raw)) }
func (a *Asset) MIMEType() string { return a.mimeType }
func (a *Asset) ETag() string    { return a.etag }
func (a *Asset) HasGzip() bool   { return len(a.gzipped) > 0 }
func (a *Asset) GzipSize() int64 { return int64(len(a.gzipped)) }

// RawBytes returns a copy of the stored body.
func (a *Asset) RawBytes() []byte {
	out := make([]byte, len(a.raw))
	copy(out, a.raw)
	return out
}

// GzipBytes returns a copy of the gzip variant, or nil if none was computed.
func (a *Asset) GzipBytes() []byte {
	if len(a.gzipped) == 0 {
		return nil
	}
	out := make([]byte, len(a.gzipped))
	copy(out, a.gzipped)
	return out
}

// Route is the tagged variant stored in the catalog's route table: either a
// fully preloaded asset or a disk path streamed per request.
type Route interface{ isRoute() }

type Preloaded struct{ Asset *Asset }

type OnDemand struct {
	Path     string // absolute disk path
	MIMEType string
}

func (Preloaded) isRoute() {}
func (OnDemand) isRoute()  {}

// contentETag derives a strong validator from the content bytes and length.
// Identical content always produces the same tag.
func contentETag(content []byte) string {
	sum := blake3.Sum256(content)
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:8])+"-"+fmt.Sprintf("%x", len(content)))
}

// mimeFor maps a filename to a MIME type by extension.
func mimeFor(name string) string {
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// mediaType strips any parameters ("text/html; charset=utf-8" -> "text/html").
func mediaType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(mimeType)
}

// compressible reports whether mimeType matches the allowlist. Entries ending
// in "/" match by prefix, others match exactly.
func compressible(mimeType string, allowlist []string) bool {
	mt := mediaType(mimeType)
	for _, entry := range allowlist {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(mt, entry) {
				return true
			}
		} else if mt == entry {
			return true
		}
	}
	return false
}
