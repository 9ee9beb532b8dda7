package knowledge

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
	"github.com/Yinkun-Cheng/RAG/pkg/embedding"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/events"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/index/memory"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
	"github.com/Yinkun-Cheng/RAG/pkg/moduletree"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
)

type switchEmbedder struct {
	next index.EmbeddingService
	mu   sync.Mutex
	err  error
}

func (e *switchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.next.Embed(ctx, text)
}

func (e *switchEmbedder) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	artifacts *artifact.Store
	jobs      *jobs.JobStore
	sync      *index.Synchronizer
	keyword   *memory.KeywordIndex
	vector    *memory.VectorIndex
	embedder  *switchEmbedder
	events    *recorder
	svc       *Service
	projectID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	f := &fixture{
		artifacts: artifact.NewStore(db),
		jobs:      jobs.NewJobStore(db),
		keyword:   memory.NewKeywordIndex(),
		vector:    memory.NewVectorIndex(),
		embedder:  &switchEmbedder{next: embedding.NewHash(32)},
		events:    &recorder{},
	}
	require.NoError(t, f.artifacts.AutoMigrate())
	require.NoError(t, moduletree.NewStore(db, f.artifacts).AutoMigrate())
	projects := project.NewStore(db)
	require.NoError(t, projects.AutoMigrate())
	require.NoError(t, f.jobs.AutoMigrate())
	require.NoError(t, index.NewStore(db).AutoMigrate())

	p := &project.Project{Name: "Shop"}
	require.NoError(t, projects.CreateProject(context.Background(), p))
	f.projectID = p.ID

	f.sync = index.NewSynchronizer(db, f.artifacts, f.jobs, index.Services{
		Embedder: f.embedder,
		Keyword:  f.keyword,
		Vector:   f.vector,
	})
	f.svc = NewService(f.artifacts, f.sync, WithEvents(f.events))
	return f
}

func (f *fixture) prd(t *testing.T, code, title, content string) artifact.Ref {
	t.Helper()
	p := &artifact.PRD{ProjectID: f.projectID, Code: code, Title: title, Content: content}
	require.NoError(t, f.svc.CreatePRD(context.Background(), p))
	return artifact.Ref{Kind: artifact.KindPRD, ProjectID: f.projectID, ID: p.ID}
}

func (f *fixture) testCase(t *testing.T, code, title string, steps ...string) artifact.Ref {
	t.Helper()
	tc := &artifact.TestCase{ProjectID: f.projectID, Code: code, Title: title}
	for i, d := range steps {
		tc.Steps = append(tc.Steps, artifact.TestStep{StepOrder: i + 1, Description: d})
	}
	require.NoError(t, f.svc.CreateTestCase(context.Background(), tc))
	return artifact.Ref{Kind: artifact.KindTestCase, ProjectID: f.projectID, ID: tc.ID}
}

func (f *fixture) entry(t *testing.T, ref artifact.Ref) *index.Entry {
	t.Helper()
	e, err := f.sync.Entries().Get(context.Background(), ref)
	require.NoError(t, err)
	return e
}

func (f *fixture) getPRD(t *testing.T, ref artifact.Ref) *artifact.PRD {
	t.Helper()
	p, err := f.artifacts.GetPRD(context.Background(), ref.ProjectID, ref.ID)
	require.NoError(t, err)
	return p
}

func strPtr(s string) *string { return &s }

func TestPublishArchiveRepublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "Users sign in with email")

	res, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, lifecycle.StatusDraft, res.From)
	require.NotNil(t, f.entry(t, ref))
	assert.True(t, f.keyword.Has(ref.ID))
	assert.True(t, f.vector.Has(ref.ID))

	res, err = f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = f.svc.Archive(ctx, ref, "alice")
	require.NoError(t, err)
	assert.Nil(t, f.entry(t, ref))
	assert.False(t, f.vector.Has(ref.ID))
	p := f.getPRD(t, ref)
	assert.Equal(t, lifecycle.StatusArchived, p.Status)
	assert.False(t, p.PendingDeindex)

	_, err = f.svc.Publish(ctx, ref, "bob")
	require.NoError(t, err)
	require.NotNil(t, f.entry(t, ref))

	assert.Equal(t, []string{events.TypePublished, events.TypeArchived, events.TypePublished}, f.events.types())
}

func TestDraftCannotBeArchived(t *testing.T) {
	f := newFixture(t)
	ref := f.prd(t, "PRD-1", "Login", "x")

	_, err := f.svc.Archive(context.Background(), ref, "alice")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
	assert.Equal(t, lifecycle.StatusDraft, f.getPRD(t, ref).Status)
	assert.Empty(t, f.events.types())
}

func TestTransitionUnknownArtifact(t *testing.T) {
	f := newFixture(t)
	ref := artifact.Ref{Kind: artifact.KindPRD, ProjectID: f.projectID, ID: uuid.New().String()}
	_, err := f.svc.Publish(context.Background(), ref, "alice")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestPublishEmbeddingFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ref := f.prd(t, "PRD-1", "Login", "x")
	f.embedder.fail(errors.New("quota exceeded"))

	_, err := f.svc.Publish(context.Background(), ref, "alice")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDependencyFailure))
	assert.Equal(t, lifecycle.StatusDraft, f.getPRD(t, ref).Status)
	assert.Nil(t, f.entry(t, ref))
	assert.False(t, f.keyword.Has(ref.ID))
}

func TestArchiveWithUnreachableIndexDefersRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "x")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	f.vector.SetError(errors.New("connection refused"))
	_, err = f.svc.Archive(ctx, ref, "alice")
	require.NoError(t, err)

	p := f.getPRD(t, ref)
	assert.Equal(t, lifecycle.StatusArchived, p.Status)
	assert.True(t, p.PendingDeindex)
	assert.Nil(t, f.entry(t, ref))

	list, _, _, err := f.jobs.List(ctx, jobs.JobListFilter{ProjectID: f.projectID, ArtifactID: ref.ID}, 10, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jobs.JobStateQueued, list[0].State)
	assert.Equal(t, jobs.ReasonArchive, list[0].Reason)
}

func TestUpdatePublishedPRDReindexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "Users sign in with email")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	out, err := f.svc.UpdatePRD(ctx, f.projectID, ref.ID, artifact.PRDUpdate{
		Content:       strPtr("Users sign in with a fingerprint"),
		CreateVersion: true,
		UpdatedBy:     "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Version)

	e := f.entry(t, ref)
	require.NotNil(t, e)
	assert.Contains(t, e.Text, "fingerprint")
	scores, err := f.keyword.Score(ctx, "fingerprint", []string{ref.ID})
	require.NoError(t, err)
	assert.Greater(t, scores[ref.ID], 0.0)
	assert.Contains(t, f.events.types(), events.TypeReindexed)
}

func TestUpdatePublishedPRDFailureLeavesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "Users sign in with email")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	f.embedder.fail(errors.New("timeout"))
	_, err = f.svc.UpdatePRD(ctx, f.projectID, ref.ID, artifact.PRDUpdate{Content: strPtr("changed")})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDependencyFailure))

	p := f.getPRD(t, ref)
	assert.Equal(t, "Users sign in with email", p.Content)
	assert.Contains(t, f.entry(t, ref).Text, "email")
}

func TestUpdatePublishedInvalidUpdateRestoresIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "Users sign in with email")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	_, err = f.svc.UpdatePRD(ctx, f.projectID, ref.ID, artifact.PRDUpdate{
		Content:  strPtr("biometrics"),
		ModuleID: strPtr(uuid.New().String()),
	})
	require.Error(t, err)

	scores, err := f.keyword.Score(ctx, "biometrics", []string{ref.ID})
	require.NoError(t, err)
	assert.Zero(t, scores[ref.ID])
	assert.Equal(t, "Users sign in with email", f.getPRD(t, ref).Content)
}

func TestUpdateDraftDoesNotIndex(t *testing.T) {
	f := newFixture(t)
	ref := f.prd(t, "PRD-1", "Login", "x")
	_, err := f.svc.UpdatePRD(context.Background(), f.projectID, ref.ID, artifact.PRDUpdate{Title: strPtr("Sign in")})
	require.NoError(t, err)
	assert.Nil(t, f.entry(t, ref))
	assert.Equal(t, 0, f.keyword.Len())
}

func TestDeletePublishedRemovesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "x")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, ref, "alice"))
	assert.Nil(t, f.getPRD(t, ref))
	assert.Nil(t, f.entry(t, ref))
	assert.False(t, f.keyword.Has(ref.ID))
	assert.False(t, f.vector.Has(ref.ID))

	err = f.svc.Delete(ctx, ref, "alice")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDeleteWithUnreachableIndexQueuesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.testCase(t, "TC-1", "Login", "open page", "enter password")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	f.keyword.SetError(errors.New("down"))
	require.NoError(t, f.svc.Delete(ctx, ref, "alice"))

	tc, err := f.artifacts.GetTestCase(ctx, f.projectID, ref.ID)
	require.NoError(t, err)
	assert.Nil(t, tc)
	assert.Nil(t, f.entry(t, ref))

	list, _, _, err := f.jobs.List(ctx, jobs.JobListFilter{ProjectID: f.projectID, ArtifactID: ref.ID}, 10, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jobs.ReasonDelete, list[0].Reason)
}

func TestBatchDeleteIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.prd(t, "PRD-1", "Login", "x")
	b := f.prd(t, "PRD-2", "Logout", "y")
	_, err := f.svc.Publish(ctx, a, "alice")
	require.NoError(t, err)

	_, err = f.svc.BatchDelete(ctx, f.projectID, artifact.KindPRD, []string{a.ID, b.ID, uuid.New().String()}, "alice")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.NotNil(t, f.getPRD(t, a))
	assert.NotNil(t, f.getPRD(t, b))
	assert.NotNil(t, f.entry(t, a))

	n, err := f.svc.BatchDelete(ctx, f.projectID, artifact.KindPRD, []string{a.ID, b.ID, a.ID}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Nil(t, f.getPRD(t, a))
	assert.Nil(t, f.getPRD(t, b))
	assert.Nil(t, f.entry(t, a))
	assert.False(t, f.vector.Has(a.ID))
}

func TestBatchDeleteValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BatchDelete(context.Background(), f.projectID, artifact.KindPRD, nil, "alice")
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
	_, err = f.svc.BatchDelete(context.Background(), f.projectID, artifact.Kind("roadmap"), []string{"x"}, "alice")
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestTagAttachDetachIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "x")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)
	tag := &artifact.Tag{ProjectID: f.projectID, Name: "auth"}
	require.NoError(t, f.artifacts.CreateTag(ctx, tag))

	require.NoError(t, f.svc.AttachTag(ctx, ref, tag.ID))
	require.NoError(t, f.svc.AttachTag(ctx, ref, tag.ID))
	tags, err := f.artifacts.ArtifactTags(ctx, ref)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, []string{"auth"}, []string(f.entry(t, ref).Tags))

	require.NoError(t, f.svc.DetachTag(ctx, ref, tag.ID))
	tags, err = f.artifacts.ArtifactTags(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.Empty(t, f.entry(t, ref).Tags)
	require.NoError(t, f.svc.DetachTag(ctx, ref, tag.ID))

	err = f.svc.AttachTag(ctx, ref, uuid.New().String())
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRenameAndDeleteTagRefreshesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	published := f.prd(t, "PRD-1", "Login", "x")
	draft := f.prd(t, "PRD-2", "Logout", "y")
	_, err := f.svc.Publish(ctx, published, "alice")
	require.NoError(t, err)
	tag := &artifact.Tag{ProjectID: f.projectID, Name: "auth"}
	require.NoError(t, f.artifacts.CreateTag(ctx, tag))
	require.NoError(t, f.svc.AttachTag(ctx, published, tag.ID))
	require.NoError(t, f.svc.AttachTag(ctx, draft, tag.ID))

	got, err := f.svc.UpdateTag(ctx, f.projectID, tag.ID, "identity", "", "")
	require.NoError(t, err)
	assert.Equal(t, "identity", got.Name)
	assert.Equal(t, []string{"identity"}, []string(f.entry(t, published).Tags))
	assert.Nil(t, f.entry(t, draft))

	require.NoError(t, f.svc.DeleteTag(ctx, f.projectID, tag.ID))
	assert.Empty(t, f.entry(t, published).Tags)
	tags, err := f.artifacts.ArtifactTags(ctx, draft)
	require.NoError(t, err)
	assert.Empty(t, tags)

	err = f.svc.DeleteTag(ctx, f.projectID, tag.ID)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRemoveStepOnPublishedTestCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.testCase(t, "TC-1", "Login", "open page", "enter secret", "submit")
	_, err := f.svc.Publish(ctx, ref, "alice")
	require.NoError(t, err)

	tc, err := f.svc.RemoveStep(ctx, f.projectID, ref.ID, 2, "alice")
	require.NoError(t, err)
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, 1, tc.Steps[0].StepOrder)
	assert.Equal(t, "open page", tc.Steps[0].Description)
	assert.Equal(t, 2, tc.Steps[1].StepOrder)
	assert.Equal(t, "submit", tc.Steps[1].Description)
	assert.NotContains(t, f.entry(t, ref).Text, "secret")

	_, err = f.svc.RemoveStep(ctx, f.projectID, ref.ID, 7, "alice")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Contains(t, f.entry(t, ref).Text, "submit")
}

func TestConcurrentTransitionsLeaveOneEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.prd(t, "PRD-1", "Login", "x")

	var wg sync.WaitGroup
	errsCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Publish(ctx, ref, "alice")
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)
	for err := range errsCh {
		if err != nil {
			assert.True(t, errs.Is(err, errs.KindConflict), err.Error())
		}
	}

	n, err := f.sync.Entries().Count(ctx, f.projectID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{events.TypePublished}, f.events.types())
}

func TestWithTag(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, withTag([]string{"a"}, "b", true))
	assert.Equal(t, []string{"a"}, withTag([]string{"a"}, "a", true))
	assert.Equal(t, []string{}, withTag([]string{"a"}, "a", false))
}
