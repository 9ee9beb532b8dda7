package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yinkun-Cheng/RAG/pkg/tenancy"
)

func auditedServer(store *Store, cfg *AuditConfig, status int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tenancy.Principal())
	r.Use(Middleware(store, cfg, nil))
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func listAll(t *testing.T, store *Store) []Event {
	t.Helper()
	events, _, _, err := store.List(context.Background(), ListFilter{}, 100, "")
	require.NoError(t, err)
	return events
}

func TestMiddlewareRecordsMutation(t *testing.T) {
	store := newTestStore(t)
	h := auditedServer(store, DefaultAuditConfig(), http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/prds/d1/archive", nil)
	req.Header.Set(tenancy.PrincipalHeader, "alice")
	req.Header.Set(tenancy.RoleHeader, "editor")
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	events := listAll(t, store)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "p1", e.ProjectID)
	assert.Equal(t, "alice", e.Actor)
	assert.Equal(t, "editor", e.Role)
	assert.Equal(t, "prds", e.ResourceType)
	assert.Equal(t, []string{"d1"}, []string(e.ResourceIDs))
	assert.Equal(t, "archive", e.Action)
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.NotEmpty(t, e.RequestID)
	assert.Equal(t, http.MethodPost, e.Metadata["method"])
}

func TestMiddlewareDefaultsActor(t *testing.T) {
	store := newTestStore(t)
	h := auditedServer(store, DefaultAuditConfig(), http.StatusCreated)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/projects", nil))

	events := listAll(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, tenancy.DefaultActor, events[0].Actor)
	assert.Equal(t, events[0].RequestID, events[0].CorrelationID)
}

func TestMiddlewareSkipsReads(t *testing.T) {
	store := newTestStore(t)
	h := auditedServer(store, DefaultAuditConfig(), http.StatusOK)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/prds", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/search", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, listAll(t, store))
}

func TestMiddlewareFailures(t *testing.T) {
	store := newTestStore(t)
	h := auditedServer(store, DefaultAuditConfig(), http.StatusConflict)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/projects/p1/modules/m1", nil))

	events := listAll(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeFailure, events[0].Outcome)
	assert.Equal(t, http.StatusConflict, events[0].StatusCode)

	quiet := newTestStore(t)
	cfg := DefaultAuditConfig()
	cfg.LogFailures = false
	auditedServer(quiet, cfg, http.StatusConflict).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodDelete, "/api/v1/projects/p1/modules/m1", nil))
	assert.Empty(t, listAll(t, quiet))
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	cfg := &AuditConfig{Enabled: false}
	rec := httptest.NewRecorder()
	auditedServer(nil, cfg, http.StatusAccepted).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/projects", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
