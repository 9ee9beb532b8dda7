package audit

import (
	"github.com/go-chi/chi/v5"
)

// Router serves the read-only audit API.
func Router(store *Store) chi.Router {
	h := handlers{store: store}
	r := chi.NewRouter()
	r.Get("/events", h.list)
	r.Get("/events/{eventID}", h.get)
	return r
}
