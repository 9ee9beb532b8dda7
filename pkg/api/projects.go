package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
)

type projectRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=4096"`
}

type appVersionRequest struct {
	Version     string `json:"version" validate:"required,max=64"`
	Description string `json:"description" validate:"max=4096"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	pageSize, err := queryInt(r, "pageSize", 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	projects, next, err := s.Projects.ListProjects(r.Context(), pageSize, r.URL.Query().Get("pageToken"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "nextPageToken": next})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := &project.Project{Name: req.Name, Description: req.Description}
	if err := s.Projects.CreateProject(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.Projects.GetProject(r.Context(), projectID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, errs.NotFound("project", projectID(r)))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Projects.UpdateProject(r.Context(), projectID(r), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// deleteProject cascades through every store; external index removal is
// queued in the same transaction and the worker pool is woken afterwards.
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := projectID(r)
	if err := s.Projects.DeleteProject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Sync.Notify()
	s.Cache.InvalidateProject(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) appVersionRoutes(r chi.Router) {
	r.Get("/", s.listAppVersions)
	r.Post("/", s.createAppVersion)
	r.Get("/{id}", s.getAppVersion)
	r.Put("/{id}", s.updateAppVersion)
	r.Delete("/{id}", s.deleteAppVersion)
}

func (s *Server) listAppVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.Projects.ListAppVersions(r.Context(), projectID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []project.AppVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appVersions": versions})
}

func (s *Server) createAppVersion(w http.ResponseWriter, r *http.Request) {
	var req appVersionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := &project.AppVersion{ProjectID: projectID(r), Version: req.Version, Description: req.Description}
	if err := s.Projects.CreateAppVersion(r.Context(), v); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) getAppVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.Projects.GetAppVersion(r.Context(), projectID(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if v == nil {
		s.writeError(w, r, errs.NotFound("app_version", id))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) updateAppVersion(w http.ResponseWriter, r *http.Request) {
	var req appVersionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.Projects.UpdateAppVersion(r.Context(), projectID(r), chi.URLParam(r, "id"), req.Version, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) deleteAppVersion(w http.ResponseWriter, r *http.Request) {
	if err := s.Projects.DeleteAppVersion(r.Context(), projectID(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
