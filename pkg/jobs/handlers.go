package jobs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// jobView is the wire form of a DeindexJob. Timestamps are RFC 3339 and
// omitted when unset.
type jobView struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	ArtifactKind  string `json:"artifactKind"`
	ArtifactID    string `json:"artifactId"`
	Reason        string `json:"reason,omitempty"`
	RequestedBy   string `json:"requestedBy"`
	RequestedAt   string `json:"requestedAt"`
	State         string `json:"state"`
	NextAttemptAt string `json:"nextAttemptAt,omitempty"`
	StartedAt     string `json:"startedAt,omitempty"`
	FinishedAt    string `json:"finishedAt,omitempty"`
	AttemptCount  int    `json:"attemptCount"`
	LastError     string `json:"lastError,omitempty"`
	Message       string `json:"message,omitempty"`
	DurationMs    int64  `json:"durationMs,omitempty"`
}

func viewOf(job *DeindexJob) jobView {
	v := jobView{
		ID:           job.ID,
		ProjectID:    job.ProjectID,
		ArtifactKind: job.ArtifactKind,
		ArtifactID:   job.ArtifactID,
		Reason:       job.Reason,
		RequestedBy:  job.RequestedBy,
		RequestedAt:  stamp(&job.RequestedAt),
		State:        string(job.State),
		StartedAt:    stamp(job.StartedAt),
		FinishedAt:   stamp(job.FinishedAt),
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
		Message:      job.Message,
		DurationMs:   job.DurationMs,
	}
	// Only a queued job has a meaningful next attempt.
	if job.State == JobStateQueued {
		v.NextAttemptAt = stamp(&job.NextAttemptAt)
	}
	return v
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type handlers struct {
	store *JobStore
}

func (h handlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := 0
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs.Write(w, errs.InvalidArgument("pageSize must be a non-negative integer"))
			return
		}
		pageSize = n
	}

	filter := JobListFilter{
		ProjectID:  chi.URLParam(r, "projectID"),
		ArtifactID: q.Get("artifactId"),
		State:      q.Get("state"),
	}
	records, next, total, err := h.store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
	if err != nil {
		errs.Write(w, err)
		return
	}

	out := make([]jobView, 0, len(records))
	for i := range records {
		out = append(out, viewOf(&records[i]))
	}
	errs.WriteJSON(w, http.StatusOK, struct {
		Jobs          []jobView `json:"jobs"`
		NextPageToken string    `json:"nextPageToken,omitempty"`
		TotalSize     int       `json:"totalSize"`
	}{out, next, total})
}

func (h handlers) get(w http.ResponseWriter, r *http.Request) {
	projectID, jobID := chi.URLParam(r, "projectID"), chi.URLParam(r, "jobID")
	job, err := h.store.Get(r.Context(), projectID, jobID)
	switch {
	case err != nil:
		errs.Write(w, errs.Internal("get deindex job", err))
	case job == nil:
		errs.Write(w, errs.NotFound("deindex job", jobID))
	default:
		errs.WriteJSON(w, http.StatusOK, viewOf(job))
	}
}

// cancel only succeeds for queued jobs; anything already picked up by a
// worker runs to completion.
func (h handlers) cancel(w http.ResponseWriter, r *http.Request) {
	projectID, jobID := chi.URLParam(r, "projectID"), chi.URLParam(r, "jobID")
	if err := h.store.Cancel(r.Context(), projectID, jobID); err != nil {
		errs.Write(w, err)
		return
	}
	job, err := h.store.Get(r.Context(), projectID, jobID)
	if err != nil || job == nil {
		errs.WriteJSON(w, http.StatusOK, map[string]string{"id": jobID, "state": string(JobStateCanceled)})
		return
	}
	errs.WriteJSON(w, http.StatusOK, viewOf(job))
}
