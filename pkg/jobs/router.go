package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router serves the deindex job API. The caller mounts it below a route that
// binds {projectID}.
func Router(store *JobStore) chi.Router {
	h := handlers{store: store}
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Get("/{jobID}", h.get)
	r.Post("/{jobID}:cancel", h.cancel)
	return r
}
