package cache

import (
	"net/http"
	"strings"
)

// Manager holds the response cache for module tree reads. Writes to a
// project's modules invalidate only that project's entries.
type Manager struct {
	trees *LRU[string, treeResponse]
}

// NewManager creates a Manager from the given configuration. If cfg is nil
// or disabled, it returns nil; all methods are safe on a nil Manager.
func NewManager(cfg *CacheConfig) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{trees: NewLRU[string, treeResponse](cfg.MaxSize, cfg.TreeTTL)}
}

// InvalidateProject drops every cached response under /projects/{projectID}/.
func (m *Manager) InvalidateProject(projectID string) {
	if m == nil {
		return
	}
	marker := "/projects/" + projectID + "/"
	m.trees.InvalidateFunc(func(key string) bool { return strings.Contains(key, marker) })
}

// InvalidateAll clears the cache.
func (m *Manager) InvalidateAll() {
	if m == nil {
		return
	}
	m.trees.InvalidateAll()
}

// TreeMiddleware caches module tree GET responses. With a nil Manager it
// passes requests through.
func (m *Manager) TreeMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return m.serveCached
}
