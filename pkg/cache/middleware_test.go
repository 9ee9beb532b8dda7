package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treePath = "/api/v1/projects/p1/modules/tree"

func treeServer(status int) (http.Handler, *int) {
	calls := 0
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"modules":[],"total":0}`))
	})
	return NewManager(DefaultCacheConfig()).TreeMiddleware()(h), &calls
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTreeCacheHit(t *testing.T) {
	h, calls := treeServer(http.StatusOK)

	first := serve(h, http.MethodGet, treePath, nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(h, http.MethodGet, treePath, nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, *calls)
}

func TestTreeCacheSkipsWritesAndErrors(t *testing.T) {
	h, calls := treeServer(http.StatusOK)
	serve(h, http.MethodPost, treePath, nil)
	serve(h, http.MethodPost, treePath, nil)
	assert.Equal(t, 2, *calls)

	h, calls = treeServer(http.StatusNotFound)
	serve(h, http.MethodGet, treePath, nil)
	rec := serve(h, http.MethodGet, treePath, nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2, *calls)
}

func TestTreeCacheKeysOnQuery(t *testing.T) {
	h, calls := treeServer(http.StatusOK)
	serve(h, http.MethodGet, treePath, nil)
	rec := serve(h, http.MethodGet, treePath+"?depth=1", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, *calls)
}

func TestTreeCacheNoCacheRefreshes(t *testing.T) {
	h, calls := treeServer(http.StatusOK)
	serve(h, http.MethodGet, treePath, nil)

	rec := serve(h, http.MethodGet, treePath, http.Header{"Cache-Control": {"no-cache"}})
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, *calls)

	rec = serve(h, http.MethodGet, treePath, nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, *calls)
}
