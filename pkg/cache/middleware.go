package cache

import (
	"bytes"
	"net/http"
	"strings"
)

// treeResponse is a stored module tree response.
type treeResponse struct {
	contentType string
	body        []byte
}

// recorder tees the response to the client and keeps a copy.
type recorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

// serveCached answers GET requests from the tree cache, keyed by request
// URI. Only 200 responses are stored. A request with Cache-Control:
// no-cache skips the lookup but still refreshes the entry. X-Cache reports
// HIT or MISS.
func (m *Manager) serveCached(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		key := r.URL.RequestURI()

		if !strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
			if hit, ok := m.trees.Get(key); ok {
				if hit.contentType != "" {
					w.Header().Set("Content-Type", hit.contentType)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(hit.body)
				return
			}
		}

		rec := &recorder{ResponseWriter: w}
		rec.Header().Set("X-Cache", "MISS")
		next.ServeHTTP(rec, r)
		if rec.status == http.StatusOK {
			m.trees.Set(key, treeResponse{
				contentType: rec.Header().Get("Content-Type"),
				body:        bytes.Clone(rec.buf.Bytes()),
			})
		}
	})
}
