package edge

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/log"
)

func TestUpstreamProxyForwards(t *testing.T) {
	var gotHost, gotReqID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotReqID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("from upstream"))
	}))
	defer upstream.Close()

	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	proxy := NewUpstreamProxy(target, log.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("X-Request-Id", "rid-proxy")

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "from upstream", rec.Body.String())
	assert.Equal(t, target.Host, gotHost)
	assert.Equal(t, "rid-proxy", gotReqID)
}

func TestUpstreamProxyDialFailureIs502(t *testing.T) {
	// a closed server guarantees a connection error
	dead := httptest.NewServer(http.NotFoundHandler())
	target, err := url.Parse(dead.URL)
	require.NoError(t, err)
	dead.Close()

	proxy := NewUpstreamProxy(target, log.Nop())

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
