package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(store *JobStore) *chi.Mux {
	r := chi.NewRouter()
	r.Mount("/projects/{projectID}/index/jobs", Router(store))
	return r
}

func doRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetJobHandler(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	job, err := store.Enqueue(context.Background(), newTestJob("p1", "a1"))
	require.NoError(t, err)
	r := setupRouter(store)

	t.Run("found", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/projects/p1/index/jobs/"+job.ID)
		require.Equal(t, http.StatusOK, w.Code)

		var resp jobView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, job.ID, resp.ID)
		assert.Equal(t, "a1", resp.ArtifactID)
		assert.Equal(t, "queued", resp.State)
		assert.NotEmpty(t, resp.NextAttemptAt)
	})

	t.Run("other project", func(t *testing.T) {
		w := doRequest(r, http.MethodGet, "/projects/p2/index/jobs/"+job.ID)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListJobsHandler(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(setupTestDB(t))
	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := store.Enqueue(ctx, newTestJob("p1", id))
		require.NoError(t, err)
	}
	r := setupRouter(store)

	w := doRequest(r, http.MethodGet, "/projects/p1/index/jobs?pageSize=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Jobs          []jobView `json:"jobs"`
		NextPageToken string        `json:"nextPageToken"`
		TotalSize     int           `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Jobs, 2)
	assert.Equal(t, 3, body.TotalSize)
	assert.NotEmpty(t, body.NextPageToken)

	w = doRequest(r, http.MethodGet, "/projects/p1/index/jobs?pageToken=garbage")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodGet, "/projects/p1/index/jobs?pageSize=lots")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelJobHandler(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	job, err := store.Enqueue(context.Background(), newTestJob("p1", "a1"))
	require.NoError(t, err)
	r := setupRouter(store)

	w := doRequest(r, http.MethodPost, "/projects/p1/index/jobs/"+job.ID+":cancel")
	require.Equal(t, http.StatusOK, w.Code)
	var canceled jobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &canceled))
	assert.Equal(t, "canceled", canceled.State)
	assert.NotEmpty(t, canceled.FinishedAt)
	assert.Empty(t, canceled.NextAttemptAt)

	w = doRequest(r, http.MethodPost, "/projects/p1/index/jobs/"+job.ID+":cancel")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPost, "/projects/p1/index/jobs/missing:cancel")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
