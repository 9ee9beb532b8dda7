package impact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/moduletree"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
	"github.com/Yinkun-Cheng/RAG/pkg/retrieval"
)

type fixture struct {
	artifacts *artifact.Store
	projects  *project.Store
	modules   *moduletree.Store
	project   *project.Project
	login     *moduletree.Module
	v1, v2    *project.AppVersion
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	f := &fixture{artifacts: artifact.NewStore(db)}
	require.NoError(t, f.artifacts.AutoMigrate())
	f.modules = moduletree.NewStore(db, f.artifacts)
	require.NoError(t, f.modules.AutoMigrate())
	f.projects = project.NewStore(db, project.WithReferenceCounter(f.artifacts))
	require.NoError(t, f.projects.AutoMigrate())

	ctx := context.Background()
	f.project = &project.Project{Name: "Shop"}
	require.NoError(t, f.projects.CreateProject(ctx, f.project))
	f.login = &moduletree.Module{ProjectID: f.project.ID, Name: "Login"}
	require.NoError(t, f.modules.Create(ctx, f.login))
	f.v1 = &project.AppVersion{ProjectID: f.project.ID, Version: "1.0"}
	require.NoError(t, f.projects.CreateAppVersion(ctx, f.v1))
	f.v2 = &project.AppVersion{ProjectID: f.project.ID, Version: "2.0"}
	require.NoError(t, f.projects.CreateAppVersion(ctx, f.v2))
	return f
}

func (f *fixture) prd(t *testing.T, code, title, content string, v *project.AppVersion) *artifact.PRD {
	t.Helper()
	p := &artifact.PRD{
		ProjectID:    f.project.ID,
		Code:         code,
		Title:        title,
		Content:      content,
		ModuleID:     &f.login.ID,
		AppVersionID: &v.ID,
	}
	require.NoError(t, f.artifacts.CreatePRD(context.Background(), p))
	return p
}

func (f *fixture) testCase(t *testing.T, code, title, expected string, prdID *string) *artifact.TestCase {
	t.Helper()
	tc := &artifact.TestCase{
		ProjectID:      f.project.ID,
		Code:           code,
		Title:          title,
		ExpectedResult: expected,
		ModuleID:       &f.login.ID,
		PRDID:          prdID,
	}
	require.NoError(t, f.artifacts.CreateTestCase(context.Background(), tc))
	return tc
}

func (f *fixture) analyzer(search Searcher, svc reasoning.Service) *Analyzer {
	return NewAnalyzer(f.artifacts, f.projects, search, svc, DefaultConfig(), nil)
}

func (f *fixture) request() Request {
	return Request{ProjectID: f.project.ID, BaseVersionID: f.v1.ID, CompareVersionID: f.v2.ID}
}

type fakeSearch struct {
	hits []string
	err  error
	reqs []retrieval.Request
}

func (s *fakeSearch) Search(_ context.Context, req retrieval.Request) (*retrieval.Result, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	res := &retrieval.Result{}
	for _, id := range s.hits {
		res.Hits = append(res.Hits, retrieval.Hit{ID: id})
	}
	return res, nil
}

type recordingReasoner struct {
	mu    sync.Mutex
	calls []reasoning.Request
	next  reasoning.Service
}

func (r *recordingReasoner) ClassifyImpact(ctx context.Context, req reasoning.Request) (*reasoning.Decision, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	return r.next.ClassifyImpact(ctx, req)
}

type failingReasoner struct{}

func (failingReasoner) ClassifyImpact(context.Context, reasoning.Request) (*reasoning.Decision, error) {
	return nil, errs.DependencyFailure("reasoning", errors.New("model overloaded"))
}

func TestAnalyzeRejectsInvalidVersions(t *testing.T) {
	f := newFixture(t)
	a := f.analyzer(nil, reasoning.Heuristic{})

	req := f.request()
	req.CompareVersionID = req.BaseVersionID
	_, err := a.Analyze(context.Background(), req)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	req = f.request()
	req.CompareVersionID = uuid.New().String()
	_, err = a.Analyze(context.Background(), req)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	other := &project.Project{Name: "Other"}
	require.NoError(t, f.projects.CreateProject(context.Background(), other))
	req = f.request()
	req.ProjectID = other.ID
	_, err = a.Analyze(context.Background(), req)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestAnalyzeAddedPRDRequiresCreate(t *testing.T) {
	f := newFixture(t)
	base := f.prd(t, "PRD-1", "Login", "Users log in with email and password.", f.v1)
	f.prd(t, "PRD-1b", "Login", "Users log in with email and password.", f.v2)
	f.prd(t, "PRD-2", "Login SMS", "Users log in with a one-time SMS code.", f.v2)
	tc := f.testCase(t, "TC-1", "Login with password", "User is logged in", &base.ID)

	search := &fakeSearch{hits: []string{tc.ID}}
	a := f.analyzer(search, reasoning.Heuristic{})
	rep, err := a.Analyze(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, PRDChangeCounts{Added: 1}, rep.PRDChanges)
	require.Len(t, rep.Details, 1)
	d := rep.Details[0]
	assert.Equal(t, reasoning.ChangeAdded, d.ChangeType)
	assert.Equal(t, "PRD-2", d.Code)
	assert.Contains(t, d.Diff, "+Login SMS")

	var create *AffectedTestCase
	for i := range d.AffectedTestCases {
		if d.AffectedTestCases[i].Action == reasoning.ActionCreate {
			create = &d.AffectedTestCases[i]
		}
	}
	require.NotNil(t, create)
	assert.Nil(t, create.TestCaseID)
	require.NotNil(t, create.ModuleID)
	assert.Equal(t, f.login.ID, *create.ModuleID)
	assert.GreaterOrEqual(t, rep.TestCaseActions.Create, 1)
	assert.NotEqual(t, LevelLow, rep.ImpactLevel)

	require.Len(t, search.reqs, 1)
	assert.Equal(t, retrieval.TypeTestCase, search.reqs[0].Type)
	assert.Equal(t, f.login.ID, search.reqs[0].ModuleID)
}

func TestAnalyzeSwapInvertsAddedAndDeleted(t *testing.T) {
	f := newFixture(t)
	f.prd(t, "PRD-1", "Login", "password", f.v1)
	f.prd(t, "PRD-2", "Fax login", "fax", f.v1)
	f.prd(t, "PRD-3", "Login", "password", f.v2)
	f.prd(t, "PRD-4", "Login SMS", "sms", f.v2)
	a := f.analyzer(nil, reasoning.Heuristic{})

	forward, err := a.Analyze(context.Background(), f.request())
	require.NoError(t, err)
	req := f.request()
	req.BaseVersionID, req.CompareVersionID = req.CompareVersionID, req.BaseVersionID
	backward, err := a.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, PRDChangeCounts{Added: 1, Deleted: 1}, forward.PRDChanges)
	assert.Equal(t, forward.PRDChanges.Added, backward.PRDChanges.Deleted)
	assert.Equal(t, forward.PRDChanges.Deleted, backward.PRDChanges.Added)

	kinds := func(r *Report) map[string]reasoning.ChangeType {
		out := map[string]reasoning.ChangeType{}
		for _, d := range r.Details {
			out[d.Title] = d.ChangeType
		}
		return out
	}
	assert.Equal(t, reasoning.ChangeAdded, kinds(forward)["Login SMS"])
	assert.Equal(t, reasoning.ChangeDeleted, kinds(backward)["Login SMS"])
	assert.Equal(t, reasoning.ChangeDeleted, kinds(forward)["Fax login"])
	assert.Equal(t, reasoning.ChangeAdded, kinds(backward)["Fax login"])
	assert.Equal(t, LevelHigh, forward.ImpactLevel)
}

func TestAnalyzeModifiedPRDUpdatesLinkedCase(t *testing.T) {
	f := newFixture(t)
	base := f.prd(t, "PRD-1", "Login", "Password must have 6 characters.", f.v1)
	f.prd(t, "PRD-1b", "Login", "Password must have 12 characters.", f.v2)
	tc := f.testCase(t, "TC-1", "Password length", "Password with 6 characters is accepted", &base.ID)

	rec := &recordingReasoner{next: reasoning.Heuristic{}}
	a := f.analyzer(&fakeSearch{hits: []string{tc.ID}}, rec)
	rep, err := a.Analyze(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, rep.Details, 1)
	d := rep.Details[0]
	assert.Equal(t, reasoning.ChangeModified, d.ChangeType)
	assert.Contains(t, d.Diff, "-Password must have 6 characters.")
	assert.Contains(t, d.Diff, "+Password must have 12 characters.")
	require.Len(t, d.AffectedTestCases, 1)
	assert.Equal(t, reasoning.ActionUpdate, d.AffectedTestCases[0].Action)
	require.NotNil(t, d.AffectedTestCases[0].TestCaseID)
	assert.Equal(t, tc.ID, *d.AffectedTestCases[0].TestCaseID)

	// The direct link and the search hit name the same case.
	assert.Len(t, rec.calls, 1)
}

func TestAnalyzeReasoningFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	base := f.prd(t, "PRD-1", "Login", "old", f.v1)
	f.prd(t, "PRD-1b", "Login", "new", f.v2)
	f.prd(t, "PRD-2", "Login SMS", "sms", f.v2)
	f.testCase(t, "TC-1", "Login", "ok", &base.ID)

	a := f.analyzer(nil, failingReasoner{})
	rep, err := a.Analyze(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, PRDChangeCounts{Added: 1, Modified: 1}, rep.PRDChanges)
	assert.Equal(t, 2, rep.FallbackCount)
	for _, d := range rep.Details {
		require.NotEmpty(t, d.AffectedTestCases, d.Title)
		switch d.ChangeType {
		case reasoning.ChangeModified:
			assert.Equal(t, reasoning.ActionUpdate, d.AffectedTestCases[0].Action)
			assert.True(t, d.AffectedTestCases[0].Fallback)
		case reasoning.ChangeAdded:
			assert.Equal(t, reasoning.ActionCreate, d.AffectedTestCases[0].Action)
		}
	}
}

func TestAnalyzeSearchFailureUsesDirectLinks(t *testing.T) {
	f := newFixture(t)
	base := f.prd(t, "PRD-1", "Login", "Password must have 6 characters.", f.v1)
	f.prd(t, "PRD-1b", "Login", "Password must have 8 characters.", f.v2)
	f.testCase(t, "TC-1", "Password", "6 characters password accepted", &base.ID)

	rec := &recordingReasoner{next: reasoning.Heuristic{}}
	a := f.analyzer(&fakeSearch{err: errs.DependencyFailure("vector-index", errors.New("down"))}, rec)
	rep, err := a.Analyze(context.Background(), f.request())
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "Password", rep.Details[0].AffectedTestCases[0].Title)
}

func TestAnalyzeNoChanges(t *testing.T) {
	f := newFixture(t)
	f.prd(t, "PRD-1", "Login", "same", f.v1)
	f.prd(t, "PRD-1b", "Login", "same", f.v2)

	rep, err := f.analyzer(nil, reasoning.Heuristic{}).Analyze(context.Background(), f.request())
	require.NoError(t, err)
	assert.Empty(t, rep.Details)
	assert.Equal(t, LevelLow, rep.ImpactLevel)
}

func TestAnalyzeIsReadOnly(t *testing.T) {
	f := newFixture(t)
	base := f.prd(t, "PRD-1", "Login", "old", f.v1)
	f.prd(t, "PRD-1b", "Login", "new", f.v2)
	tc := f.testCase(t, "TC-1", "Login", "ok", &base.ID)

	_, err := f.analyzer(nil, reasoning.Heuristic{}).Analyze(context.Background(), f.request())
	require.NoError(t, err)

	got, err := f.artifacts.GetTestCase(context.Background(), f.project.ID, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, tc.Version, got.Version)
	assert.Equal(t, tc.Status, got.Status)
}

func TestMatchPRDsByCode(t *testing.T) {
	mod := "m1"
	base := []artifact.PRD{{ID: "a", Code: "PRD-1", Title: "Login", ModuleID: &mod}}
	compare := []artifact.PRD{{ID: "b", Code: "prd-1", Title: "Sign in", ModuleID: &mod}}

	byTitle := matchPRDs(base, compare, IdentityTitle)
	assert.Len(t, byTitle, 2)

	byCode := matchPRDs(base, compare, IdentityCode)
	require.Len(t, byCode, 1)
	ct, changed := byCode[0].changeType()
	assert.True(t, changed)
	assert.Equal(t, reasoning.ChangeModified, ct)
}

func TestLevels(t *testing.T) {
	update := AffectedTestCase{Action: reasoning.ActionUpdate}
	keep := AffectedTestCase{Action: reasoning.ActionKeep}

	tests := []struct {
		name   string
		change PRDChange
		want   Level
	}{
		{"deleted", PRDChange{ChangeType: reasoning.ChangeDeleted}, LevelHigh},
		{"many updates", PRDChange{ChangeType: reasoning.ChangeModified, AffectedTestCases: []AffectedTestCase{update, update, update}}, LevelHigh},
		{"one update", PRDChange{ChangeType: reasoning.ChangeModified, AffectedTestCases: []AffectedTestCase{update, keep}}, LevelMedium},
		{"added", PRDChange{ChangeType: reasoning.ChangeAdded}, LevelMedium},
		{"only keeps", PRDChange{ChangeType: reasoning.ChangeModified, AffectedTestCases: []AffectedTestCase{keep}}, LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prdLevel(&tt.change, 3))
		})
	}

	mod := func(l Level) PRDChange { return PRDChange{ChangeType: reasoning.ChangeModified, ImpactLevel: l} }
	assert.Equal(t, LevelLow, overallLevel(nil, 0.3))
	assert.Equal(t, LevelLow, overallLevel([]PRDChange{mod(LevelLow)}, 0.3))
	assert.Equal(t, LevelMedium, overallLevel([]PRDChange{mod(LevelLow), mod(LevelMedium)}, 0.3))
	assert.Equal(t, LevelMedium, overallLevel([]PRDChange{mod(LevelHigh), mod(LevelLow), mod(LevelLow), mod(LevelLow)}, 0.3))
	assert.Equal(t, LevelHigh, overallLevel([]PRDChange{mod(LevelHigh), mod(LevelLow)}, 0.3))
	assert.Equal(t, LevelHigh, overallLevel([]PRDChange{mod(LevelLow), {ChangeType: reasoning.ChangeDeleted}}, 0.3))
}

func TestMergeCreates(t *testing.T) {
	id := "tc"
	in := []AffectedTestCase{
		{Action: reasoning.ActionCreate, Code: "TC-1", RelatedTestCaseID: &id, Suggestions: []string{"a"}},
		{Action: reasoning.ActionKeep, Code: "TC-2"},
		{Action: reasoning.ActionCreate, Suggestions: []string{"a", "b"}},
	}
	out := mergeCreates(in)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"a", "b"}, out[0].Suggestions)
	assert.Empty(t, out[0].Code)
}
