package audit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   pathInfo
	}{
		{
			name:   "create project",
			method: http.MethodPost,
			path:   "/api/v1/projects",
			want:   pathInfo{ResourceType: "projects", Action: "create"},
		},
		{
			name:   "update project",
			method: http.MethodPut,
			path:   "/api/v1/projects/p1",
			want:   pathInfo{ProjectID: "p1", ResourceType: "projects", ResourceIDs: []string{"p1"}, Action: "update"},
		},
		{
			name:   "publish prd",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/prds/d1/publish",
			want:   pathInfo{ProjectID: "p1", ResourceType: "prds", ResourceIDs: []string{"d1"}, Action: "publish"},
		},
		{
			name:   "batch delete test cases",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/testcases/batch-delete",
			want:   pathInfo{ProjectID: "p1", ResourceType: "testcases", Action: "batch-delete"},
		},
		{
			name:   "detach tag",
			method: http.MethodDelete,
			path:   "/api/v1/projects/p1/prds/d1/tags/t1",
			want:   pathInfo{ProjectID: "p1", ResourceType: "prds", ResourceIDs: []string{"d1", "t1"}, Action: "detach-tag"},
		},
		{
			name:   "delete step",
			method: http.MethodDelete,
			path:   "/api/v1/projects/p1/testcases/c1/steps/2",
			want:   pathInfo{ProjectID: "p1", ResourceType: "testcases", ResourceIDs: []string{"c1", "2"}, Action: "delete-step"},
		},
		{
			name:   "rebuild index",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/index:rebuild",
			want:   pathInfo{ProjectID: "p1", ResourceType: "index", Action: "rebuild"},
		},
		{
			name:   "cancel job",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/index/jobs/j1:cancel",
			want:   pathInfo{ProjectID: "p1", ResourceType: "jobs", ResourceIDs: []string{"j1"}, Action: "cancel"},
		},
		{
			name:   "reorder modules",
			method: http.MethodPost,
			path:   "/api/v1/projects/p1/modules/reorder",
			want:   pathInfo{ProjectID: "p1", ResourceType: "modules", Action: "reorder"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parsePath(tt.method, tt.path))
		})
	}
}

func TestIsAudited(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/api/v1/projects", true},
		{http.MethodDelete, "/api/v1/projects/p1/prds/d1", true},
		{http.MethodGet, "/api/v1/projects/p1/prds", false},
		{http.MethodPost, "/api/v1/projects/p1/search", false},
		{http.MethodPost, "/api/v1/projects/p1/impact-analysis", false},
		{http.MethodPost, "/healthz", false},
		{http.MethodPost, "/other/path", false},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isAudited(tt.method, tt.path))
		})
	}
}

func TestOutcomeFromStatus(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, outcomeOf(http.StatusCreated))
	assert.Equal(t, OutcomeDenied, outcomeOf(http.StatusForbidden))
	assert.Equal(t, OutcomeFailure, outcomeOf(http.StatusConflict))
	assert.Equal(t, OutcomeFailure, outcomeOf(http.StatusInternalServerError))
}
