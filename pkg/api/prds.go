package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

type prdCreateRequest struct {
	Code         string  `json:"code" validate:"required,max=64"`
	Title        string  `json:"title" validate:"required,max=500"`
	Content      string  `json:"content"`
	ModuleID     *string `json:"module_id"`
	AppVersionID *string `json:"app_version_id"`
	Author       string  `json:"author" validate:"max=255"`
}

type prdUpdateRequest struct {
	Title         *string `json:"title" validate:"omitempty,min=1,max=500"`
	Content       *string `json:"content"`
	ModuleID      *string `json:"module_id"`
	AppVersionID  *string `json:"app_version_id"`
	Author        *string `json:"author" validate:"omitempty,max=255"`
	CreateVersion bool    `json:"create_version"`
	ChangeLog     string  `json:"change_log" validate:"max=4096"`
}

func (s *Server) prdRoutes(r chi.Router) {
	r.Get("/", s.listPRDs)
	r.Post("/", s.createPRD)
	r.Get("/{id}", s.getPRD)
	r.Put("/{id}", s.updatePRD)
	r.Get("/{id}/versions", s.listPRDVersions)
	r.Get("/{id}/versions/compare", s.comparePRDVersions)
	r.Get("/{id}/versions/{version}", s.getPRDVersion)
	s.artifactRoutes(r, artifact.KindPRD)
}

func (s *Server) listPRDs(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.Artifacts.ListPRDs(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []artifact.PRD{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createPRD(w http.ResponseWriter, r *http.Request) {
	var req prdCreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := &artifact.PRD{
		ProjectID:    projectID(r),
		Code:         req.Code,
		Title:        req.Title,
		Content:      req.Content,
		ModuleID:     req.ModuleID,
		AppVersionID: req.AppVersionID,
		Author:       req.Author,
	}
	if p.Author == "" {
		p.Author = actor(r)
	}
	if err := s.Knowledge.CreatePRD(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getPRD(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.Artifacts.GetPRD(r.Context(), projectID(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, errs.NotFound("prd", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePRD(w http.ResponseWriter, r *http.Request) {
	var req prdUpdateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Knowledge.UpdatePRD(r.Context(), projectID(r), chi.URLParam(r, "id"), artifact.PRDUpdate{
		Title:         req.Title,
		Content:       req.Content,
		ModuleID:      req.ModuleID,
		AppVersionID:  req.AppVersionID,
		Author:        req.Author,
		CreateVersion: req.CreateVersion,
		ChangeLog:     req.ChangeLog,
		UpdatedBy:     actor(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listPRDVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.Artifacts.ListPRDVersions(r.Context(), projectID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) getPRDVersion(w http.ResponseWriter, r *http.Request) {
	n, err := pathInt(r, "version")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.Artifacts.GetPRDVersion(r.Context(), projectID(r), chi.URLParam(r, "id"), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) comparePRDVersions(w http.ResponseWriter, r *http.Request) {
	from, to, err := compareRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	diff, err := s.Artifacts.ComparePRDVersions(r.Context(), projectID(r), chi.URLParam(r, "id"), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}
