package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// eventView is the wire form of an Event.
type eventView struct {
	ID            string         `json:"id"`
	CreatedAt     string         `json:"createdAt"`
	Actor         string         `json:"actor"`
	Role          string         `json:"role,omitempty"`
	ProjectID     string         `json:"projectId,omitempty"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceIDs   []string       `json:"resourceIds,omitempty"`
	Action        string         `json:"action,omitempty"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (e *Event) view() eventView {
	return eventView{
		ID:            e.ID,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Actor:         e.Actor,
		Role:          e.Role,
		ProjectID:     e.ProjectID,
		ResourceType:  e.ResourceType,
		ResourceIDs:   e.ResourceIDs,
		Action:        e.Action,
		Outcome:       e.Outcome,
		StatusCode:    e.StatusCode,
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
		Metadata:      e.Metadata,
	}
}

type handlers struct {
	store *Store
}

// list accepts projectId, actor, resourceType, action and outcome filters
// plus pageSize and pageToken.
func (h handlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := defaultPageSize
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs.Write(w, errs.InvalidArgument("pageSize must be a positive integer"))
			return
		}
		pageSize = n
	}

	events, next, total, err := h.store.List(r.Context(), ListFilter{
		ProjectID:    q.Get("projectId"),
		Actor:        q.Get("actor"),
		ResourceType: q.Get("resourceType"),
		Action:       q.Get("action"),
		Outcome:      q.Get("outcome"),
	}, pageSize, q.Get("pageToken"))
	if err != nil {
		errs.Write(w, err)
		return
	}

	out := make([]eventView, len(events))
	for i := range events {
		out[i] = events[i].view()
	}
	errs.WriteJSON(w, http.StatusOK, struct {
		Events        []eventView `json:"events"`
		NextPageToken string      `json:"nextPageToken,omitempty"`
		TotalSize     int         `json:"totalSize"`
	}{out, next, total})
}

func (h handlers) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		errs.Write(w, errs.Internal("get audit event", err))
		return
	}
	if event == nil {
		errs.Write(w, errs.NotFound("audit event", id))
		return
	}
	errs.WriteJSON(w, http.StatusOK, event.view())
}
