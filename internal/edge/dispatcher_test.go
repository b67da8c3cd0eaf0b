package edge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/assets"
	"github.com/edgegate/edgegate/internal/httpmw"
	"github.com/edgegate/edgegate/internal/log"
	"github.com/edgegate/edgegate/internal/ratelimit"
)

func testCatalog(t *testing.T) *assets.Catalog {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body{margin:0}"), 0o644))

	return assets.Scan(context.Background(), dir, &assets.Options{
		Logger:      log.Nop(),
		ETagEnabled: true,
	})
}

func testDispatcher(t *testing.T, mutate func(*Options)) *Dispatcher {
	t.Helper()

	opts := &Options{
		Logger:  log.Nop(),
		Catalog: testCatalog(t),
		Assets:  assets.NewHandler(assets.ServeOptions{ETagEnabled: true}),
		Policy:  &httpmw.SecurityPolicy{AllowedOrigins: []string{"https://example.com"}},
		App: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("app"))
		}),
	}
	if mutate != nil {
		mutate(opts)
	}

	d, err := New(opts)
	require.NoError(t, err)
	return d
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Options{})
	require.Error(t, err)
}

func TestAssetBypassesMiddleware(t *testing.T) {
	d := testDispatcher(t, nil)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/style.css", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{margin:0}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	// the middleware chain never ran
	assert.Empty(t, rec.Header().Get(httpmw.ResponseRequestIDHeader))
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestAppPathRunsFullChain(t *testing.T) {
	d := testDispatcher(t, nil)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(httpmw.ResponseRequestIDHeader))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCorrelationIDPassthrough(t *testing.T) {
	var seen string
	d := testDispatcher(t, func(o *Options) {
		o.App = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = httpmw.RequestIDFromContext(r.Context())
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("X-Request-Id", "abc123")

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, "abc123", seen)
	assert.Equal(t, "abc123", rec.Header().Get(httpmw.ResponseRequestIDHeader))
}

func TestPreflightShortCircuits(t *testing.T) {
	appCalled := false
	d := testDispatcher(t, func(o *Options) {
		o.App = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { appCalled = true })
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/data", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, appCalled)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	// preflight still carries correlation and hardening headers
	assert.NotEmpty(t, rec.Header().Get(httpmw.ResponseRequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRateLimitDeniesWithHeaders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := ratelimit.New(ctx, map[string]ratelimit.Category{
		ratelimit.CategoryAPI: {Capacity: 2, Window: time.Minute},
	})
	d := testDispatcher(t, func(o *Options) { o.Limiter = limiter })

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		d.ServeHTTP(rec, req)
	}

	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	// the denial still carries correlation and hardening headers
	assert.NotEmpty(t, rec.Header().Get(httpmw.ResponseRequestIDHeader))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimitIndependentIdentifiers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := ratelimit.New(ctx, map[string]ratelimit.Category{
		ratelimit.CategoryAPI: {Capacity: 1, Window: time.Minute},
	})
	d := testDispatcher(t, func(o *Options) { o.Limiter = limiter })

	first := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	first.RemoteAddr = "10.0.0.1:1000"
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	// a different client is not affected by the first client's spent window
	second := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	second.RemoteAddr = "10.0.0.2:1000"
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPanicBecomesGeneric500(t *testing.T) {
	panics := 0
	d := testDispatcher(t, func(o *Options) {
		o.OnPanic = func() { panics++ }
		o.App = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("kaboom with secrets")
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/crash", nil)
	req.Header.Set("X-Request-Id", "rid-crash")

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secrets")
	assert.Equal(t, "rid-crash", rec.Header().Get(httpmw.ResponseRequestIDHeader))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, 1, panics)
}

func TestMaxBodyApplied(t *testing.T) {
	d := testDispatcher(t, func(o *Options) {
		o.MaxBodyBytes = 8
		o.App = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := io.ReadAll(r.Body)
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "too large", http.StatusRequestEntityTooLarge)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("this body is way past the cap")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("tiny")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNoUpstreamDefaultsTo502(t *testing.T) {
	d := testDispatcher(t, func(o *Options) { o.App = nil })

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/auth/login", ratelimit.CategoryAuth},
		{"/api/auth", ratelimit.CategoryAuth},
		{"/auth/token", ratelimit.CategoryAuth},
		{"/login", ratelimit.CategoryAuth},
		{"/logout", ratelimit.CategoryAuth},
		{"/api/users", ratelimit.CategoryAPI},
		{"/api", ratelimit.CategoryAPI},
		{"/", ratelimit.CategoryGeneral},
		{"/about", ratelimit.CategoryGeneral},
		{"/apiary", ratelimit.CategoryGeneral},
		{"/authx", ratelimit.CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}
