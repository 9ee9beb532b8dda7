package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
)

type tagRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Color       string `json:"color" validate:"omitempty,max=32"`
	Description string `json:"description" validate:"max=1024"`
}

func (s *Server) tagRoutes(r chi.Router) {
	r.Get("/", s.listTags)
	r.Post("/", s.createTag)
	r.Put("/{id}", s.updateTag)
	r.Delete("/{id}", s.deleteTag)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.Artifacts.ListTags(r.Context(), projectID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tags == nil {
		tags = []artifact.TagUsage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t := &artifact.Tag{ProjectID: projectID(r), Name: req.Name, Color: req.Color, Description: req.Description}
	if err := s.Artifacts.CreateTag(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Knowledge.UpdateTag(r.Context(), projectID(r), chi.URLParam(r, "id"), req.Name, req.Color, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.Knowledge.DeleteTag(r.Context(), projectID(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
