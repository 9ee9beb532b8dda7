package api

import (
	"net/http"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/impact"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/retrieval"
)

type rebuildRequest struct {
	Force bool `json:"force"`
}

// Statistics is the response of GET /projects/{projectID}/statistics.
type Statistics struct {
	artifact.Statistics
	Modules        int   `json:"modules"`
	AppVersions    int64 `json:"app_versions"`
	IndexedEntries int64 `json:"indexed_entries"`
	PendingJobs    int   `json:"pending_deindex_jobs"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ProjectID = projectID(r)
	res, err := s.Retriever.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req impact.Request
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ProjectID = projectID(r)
	rep, err := s.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Knowledge.Rebuild(r.Context(), projectID(r), req.Force, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid := projectID(r)

	base, err := s.Artifacts.Statistics(ctx, pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats := Statistics{Statistics: *base}

	modules, err := s.Modules.List(ctx, pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats.Modules = len(modules)

	if stats.AppVersions, err = s.Projects.CountAppVersions(ctx, pid); err != nil {
		s.writeError(w, r, err)
		return
	}
	if stats.IndexedEntries, err = s.Sync.Entries().Count(ctx, pid); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, _, stats.PendingJobs, err = s.Jobs.List(ctx, jobs.JobListFilter{ProjectID: pid, State: string(jobs.JobStateQueued)}, 1, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
