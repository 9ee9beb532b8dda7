package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEventsHandler(t *testing.T) {
	store := newTestStore(t)
	appendEvent(t, store, "p1", "alice", time.Now().Add(-time.Minute))
	appendEvent(t, store, "p1", "bob", time.Now())
	srv := httptest.NewServer(Router(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?actor=bob")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events    []eventView `json:"events"`
		TotalSize int             `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.TotalSize)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "bob", body.Events[0].Actor)
}

func TestListEventsHandlerBadToken(t *testing.T) {
	srv := httptest.NewServer(Router(newTestStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?pageToken=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetEventHandler(t *testing.T) {
	store := newTestStore(t)
	e := appendEvent(t, store, "p1", "alice", time.Now())
	srv := httptest.NewServer(Router(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/" + e.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got eventView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "p1", got.ProjectID)

	missing, err := http.Get(srv.URL + "/events/does-not-exist")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
