package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/moduletree"
)

type moduleRequest struct {
	ParentID    *string `json:"parent_id"`
	Name        string  `json:"name" validate:"required,max=255"`
	Description string  `json:"description" validate:"max=4096"`
	SortOrder   int     `json:"sort_order" validate:"gte=0"`
}

type moduleUpdateRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=4096"`
}

type reorderRequest struct {
	Items []moduletree.SortItem `json:"items" validate:"required,min=1,dive"`
}

func (s *Server) moduleRoutes(r chi.Router) {
	r.With(s.Cache.TreeMiddleware()).Get("/tree", s.moduleTree)
	r.Post("/", s.createModule)
	r.Post("/reorder", s.reorderModules)
	r.Get("/{id}", s.getModule)
	r.Put("/{id}", s.updateModule)
	r.Delete("/{id}", s.deleteModule)
}

func (s *Server) moduleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.Modules.Tree(r.Context(), projectID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nodes := tree.Nodes()
	if nodes == nil {
		nodes = []*moduletree.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": nodes, "total": tree.Len()})
}

func (s *Server) createModule(w http.ResponseWriter, r *http.Request) {
	var req moduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m := &moduletree.Module{
		ProjectID:   projectID(r),
		ParentID:    req.ParentID,
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	}
	if err := s.Modules.Create(r.Context(), m); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Cache.InvalidateProject(m.ProjectID)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.Modules.Get(r.Context(), projectID(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if m == nil {
		s.writeError(w, r, errs.NotFound("module", id))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateModule(w http.ResponseWriter, r *http.Request) {
	var req moduleUpdateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Modules.Update(r.Context(), projectID(r), chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Cache.InvalidateProject(projectID(r))
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteModule(w http.ResponseWriter, r *http.Request) {
	if err := s.Modules.Delete(r.Context(), projectID(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Cache.InvalidateProject(projectID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reorderModules(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Modules.Reorder(r.Context(), projectID(r), req.Items); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Cache.InvalidateProject(projectID(r))
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(req.Items)})
}
