package tenancy

import (
	"net/http"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// Principal returns HTTP middleware that resolves the caller from the
// request headers and stores it in the request context. Invalid headers
// produce a 400 JSON error.
func Principal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := ResolvePrincipal(r)
			if err != nil {
				errs.Write(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), s)))
		})
	}
}

// ProjectScope returns HTTP middleware that resolves {projectID} and adds it
// to the request Scope. It must be mounted on a route that declares the
// parameter. Unknown projects yield 404.
func ProjectScope(projects ProjectLookup) func(http.Handler) http.Handler {
	resolver := ProjectResolver{Projects: projects}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				errs.Write(w, err)
				return
			}
			s, ok := ScopeFromContext(r.Context())
			if !ok {
				if s, err = ResolvePrincipal(r); err != nil {
					errs.Write(w, err)
					return
				}
			}
			s.ProjectID = id
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), s)))
		})
	}
}

