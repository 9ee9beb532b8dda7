package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

type batchDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,required"`
}

// artifactRoutes registers the routes PRDs and test cases share.
func (s *Server) artifactRoutes(r chi.Router, kind artifact.Kind) {
	r.Post("/batch-delete", s.batchDelete(kind))
	r.Delete("/{id}", s.deleteArtifact(kind))
	r.Post("/{id}/publish", s.transition(kind, lifecycle.StatusPublished))
	r.Post("/{id}/archive", s.transition(kind, lifecycle.StatusArchived))
	r.Post("/{id}/tags/{tagID}", s.tag(kind, true))
	r.Delete("/{id}/tags/{tagID}", s.tag(kind, false))
}

func ref(r *http.Request, kind artifact.Kind) artifact.Ref {
	return artifact.Ref{Kind: kind, ProjectID: projectID(r), ID: chi.URLParam(r, "id")}
}

// listFilter reads the shared list query parameters.
func listFilter(r *http.Request) (artifact.ListFilter, error) {
	q := r.URL.Query()
	f := artifact.ListFilter{
		ProjectID:    projectID(r),
		ModuleID:     q.Get("module_id"),
		AppVersionID: q.Get("app_version_id"),
		Status:       lifecycle.Status(q.Get("status")),
		TagID:        q.Get("tag_id"),
		Keyword:      q.Get("keyword"),
		PRDID:        q.Get("prd_id"),
		Priority:     q.Get("priority"),
		Type:         q.Get("type"),
		FilterQuery:  q.Get("filterQuery"),
	}
	var err error
	if f.Page, err = queryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(r, "page_size", artifact.DefaultPageSize); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) transition(kind artifact.Kind, to lifecycle.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Knowledge.Transition(r.Context(), ref(r, kind), to, actor(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) deleteArtifact(kind artifact.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Knowledge.Delete(r.Context(), ref(r, kind), actor(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) batchDelete(kind artifact.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchDeleteRequest
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		n, err := s.Knowledge.BatchDelete(r.Context(), projectID(r), kind, req.IDs, actor(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func (s *Server) tag(kind artifact.Kind, attach bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if attach {
			err = s.Knowledge.AttachTag(r.Context(), ref(r, kind), chi.URLParam(r, "tagID"))
		} else {
			err = s.Knowledge.DetachTag(r.Context(), ref(r, kind), chi.URLParam(r, "tagID"))
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func compareRange(r *http.Request) (int, int, error) {
	from, err := queryInt(r, "from", 0)
	if err != nil {
		return 0, 0, err
	}
	to, err := queryInt(r, "to", 0)
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}
