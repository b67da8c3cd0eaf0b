package httpmw

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxBodyAllowsSmallBodies(t *testing.T) {
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write(b)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "small", rec.Body.String())
}

func TestMaxBodyRejectsOversized(t *testing.T) {
	var readErr error
	h := MaxBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		if readErr != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("way too big")))

	require.Error(t, readErr)
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
