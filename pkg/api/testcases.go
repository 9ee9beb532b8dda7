package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

type stepRequest struct {
	Description string   `json:"description" validate:"required"`
	TestData    string   `json:"test_data"`
	Expected    string   `json:"expected"`
	Screenshots []string `json:"screenshots" validate:"omitempty,max=20,dive,required"`
}

type testCaseCreateRequest struct {
	Code           string        `json:"code" validate:"required,max=64"`
	Title          string        `json:"title" validate:"required,max=500"`
	PRDID          *string       `json:"prd_id"`
	ModuleID       *string       `json:"module_id"`
	AppVersionID   *string       `json:"app_version_id"`
	Precondition   string        `json:"precondition"`
	ExpectedResult string        `json:"expected_result"`
	Priority       string        `json:"priority" validate:"omitempty,oneof=high medium low"`
	Type           string        `json:"type" validate:"omitempty,max=32"`
	Author         string        `json:"author" validate:"max=255"`
	Steps          []stepRequest `json:"steps" validate:"omitempty,max=200,dive"`
}

type testCaseUpdateRequest struct {
	Title          *string        `json:"title" validate:"omitempty,min=1,max=500"`
	PRDID          *string        `json:"prd_id"`
	ModuleID       *string        `json:"module_id"`
	AppVersionID   *string        `json:"app_version_id"`
	Precondition   *string        `json:"precondition"`
	ExpectedResult *string        `json:"expected_result"`
	Priority       *string        `json:"priority" validate:"omitempty,oneof=high medium low"`
	Type           *string        `json:"type" validate:"omitempty,max=32"`
	Author         *string        `json:"author" validate:"omitempty,max=255"`
	Steps          *[]stepRequest `json:"steps" validate:"omitempty,max=200,dive"`
	CreateVersion  bool           `json:"create_version"`
	ChangeLog      string         `json:"change_log" validate:"max=4096"`
}

func toSteps(in []stepRequest) []artifact.TestStep {
	out := make([]artifact.TestStep, len(in))
	for i, st := range in {
		out[i] = artifact.TestStep{
			StepOrder:   i + 1,
			Description: st.Description,
			TestData:    st.TestData,
			Expected:    st.Expected,
			Screenshots: db.JSONStringSlice(st.Screenshots),
		}
	}
	return out
}

func (s *Server) testCaseRoutes(r chi.Router) {
	r.Get("/", s.listTestCases)
	r.Post("/", s.createTestCase)
	r.Get("/{id}", s.getTestCase)
	r.Put("/{id}", s.updateTestCase)
	r.Delete("/{id}/steps/{order}", s.removeStep)
	r.Get("/{id}/versions", s.listTestCaseVersions)
	r.Get("/{id}/versions/compare", s.compareTestCaseVersions)
	r.Get("/{id}/versions/{version}", s.getTestCaseVersion)
	s.artifactRoutes(r, artifact.KindTestCase)
}

func (s *Server) listTestCases(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.Artifacts.ListTestCases(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []artifact.TestCase{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createTestCase(w http.ResponseWriter, r *http.Request) {
	var req testCaseCreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tc := &artifact.TestCase{
		ProjectID:      projectID(r),
		Code:           req.Code,
		Title:          req.Title,
		PRDID:          req.PRDID,
		ModuleID:       req.ModuleID,
		AppVersionID:   req.AppVersionID,
		Precondition:   req.Precondition,
		ExpectedResult: req.ExpectedResult,
		Priority:       req.Priority,
		Type:           req.Type,
		Author:         req.Author,
		Steps:          toSteps(req.Steps),
	}
	if tc.Author == "" {
		tc.Author = actor(r)
	}
	if err := s.Knowledge.CreateTestCase(r.Context(), tc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tc)
}

func (s *Server) getTestCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tc, err := s.Artifacts.GetTestCase(r.Context(), projectID(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tc == nil {
		s.writeError(w, r, errs.NotFound("testcase", id))
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) updateTestCase(w http.ResponseWriter, r *http.Request) {
	var req testCaseUpdateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u := artifact.TestCaseUpdate{
		Title:          req.Title,
		PRDID:          req.PRDID,
		ModuleID:       req.ModuleID,
		AppVersionID:   req.AppVersionID,
		Precondition:   req.Precondition,
		ExpectedResult: req.ExpectedResult,
		Priority:       req.Priority,
		Type:           req.Type,
		Author:         req.Author,
		CreateVersion:  req.CreateVersion,
		ChangeLog:      req.ChangeLog,
		UpdatedBy:      actor(r),
	}
	if req.Steps != nil {
		steps := toSteps(*req.Steps)
		u.Steps = &steps
	}
	tc, err := s.Knowledge.UpdateTestCase(r.Context(), projectID(r), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) removeStep(w http.ResponseWriter, r *http.Request) {
	order, err := pathInt(r, "order")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tc, err := s.Knowledge.RemoveStep(r.Context(), projectID(r), chi.URLParam(r, "id"), order, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) listTestCaseVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.Artifacts.ListTestCaseVersions(r.Context(), projectID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) getTestCaseVersion(w http.ResponseWriter, r *http.Request) {
	n, err := pathInt(r, "version")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.Artifacts.GetTestCaseVersion(r.Context(), projectID(r), chi.URLParam(r, "id"), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) compareTestCaseVersions(w http.ResponseWriter, r *http.Request) {
	from, to, err := compareRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	diff, err := s.Artifacts.CompareTestCaseVersions(r.Context(), projectID(r), chi.URLParam(r, "id"), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}
