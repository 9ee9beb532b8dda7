package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewManagerDisabled(t *testing.T) {
	assert.Nil(t, NewManager(nil))
	assert.Nil(t, NewManager(&CacheConfig{Enabled: false}))
}

func TestNilManagerSafe(t *testing.T) {
	var m *Manager
	m.InvalidateProject("p1")
	m.InvalidateAll()

	calls := 0
	h := m.TreeMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/modules/tree", nil))
	}
	assert.Equal(t, 2, calls)
}

func TestInvalidateProjectIsScoped(t *testing.T) {
	m := NewManager(DefaultCacheConfig())
	calls := map[string]int{}
	h := m.TreeMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls[r.URL.Path]++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	get := func(path string) string {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Header().Get("X-Cache")
	}

	p1 := "/api/v1/projects/p1/modules/tree"
	p2 := "/api/v1/projects/p2/modules/tree"
	assert.Equal(t, "MISS", get(p1))
	assert.Equal(t, "MISS", get(p2))
	assert.Equal(t, "HIT", get(p1))

	m.InvalidateProject("p1")
	assert.Equal(t, "MISS", get(p1))
	assert.Equal(t, "HIT", get(p2))
	assert.Equal(t, 2, calls[p1])
	assert.Equal(t, 1, calls[p2])
}

func TestCacheConfigFromEnv(t *testing.T) {
	t.Setenv("RAG_CACHE_ENABLED", "false")
	t.Setenv("RAG_CACHE_MAX_SIZE", "5")
	t.Setenv("RAG_CACHE_EMBEDDING_TTL", "bogus")

	cfg := CacheConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 5, cfg.MaxSize)
	assert.Equal(t, DefaultCacheConfig().EmbeddingTTL, cfg.EmbeddingTTL)

	t.Setenv("RAG_CACHE_EMBEDDING_TTL", "90")
	t.Setenv("RAG_CACHE_TREE_TTL", "2m")
	cfg = CacheConfigFromEnv()
	assert.Equal(t, 90*time.Second, cfg.EmbeddingTTL)
	assert.Equal(t, 2*time.Minute, cfg.TreeTTL)
}
