package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/tenancy"
)

// Middleware appends an Event once a state-changing API request has been
// served. tenancy.Principal must run earlier in the chain, otherwise every
// event is attributed to tenancy.DefaultActor.
func Middleware(store *Store, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	off := cfg == nil || !cfg.Enabled || store == nil

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if off || !isAudited(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := newEvent(r, status, start)
			if event.Outcome != OutcomeSuccess && !cfg.LogFailures {
				return
			}
			if err := store.Append(r.Context(), event); err != nil {
				logger.Error("appending audit event", "requestID", event.RequestID, "error", err)
			}
		})
	}
}

func newEvent(r *http.Request, status int, start time.Time) *Event {
	ctx := r.Context()
	scope, _ := tenancy.ScopeFromContext(ctx)
	info := parsePath(r.Method, r.URL.Path)

	requestID := middleware.GetReqID(ctx)
	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = requestID
	}

	return &Event{
		ID:            uuid.NewString(),
		ProjectID:     info.ProjectID,
		CorrelationID: correlationID,
		RequestID:     requestID,
		Actor:         tenancy.ActorFromContext(ctx),
		Role:          scope.Role,
		ResourceType:  info.ResourceType,
		ResourceIDs:   db.JSONStringSlice(info.ResourceIDs),
		Action:        info.Action,
		Outcome:       outcomeOf(status),
		StatusCode:    status,
		CreatedAt:     start,
		Metadata: db.JSONAny{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		},
	}
}

func outcomeOf(status int) string {
	switch {
	case status < 300:
		return OutcomeSuccess
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return OutcomeDenied
	}
	return OutcomeFailure
}
