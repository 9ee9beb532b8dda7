package project

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// newTestDB creates an in-memory SQLite DB with project tables migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

type fakeRefs map[string]int64

func (f fakeRefs) CountAppVersionReferences(_ context.Context, _, id string) (int64, error) {
	return f[id], nil
}

type recordingCascade struct {
	projectIDs []string
}

func (r *recordingCascade) DeleteProjectData(_ context.Context, _ *gorm.DB, projectID string) error {
	r.projectIDs = append(r.projectIDs, projectID)
	return nil
}

func TestProjectCRUD(t *testing.T) {
	ctx := context.Background()
	cascade := &recordingCascade{}
	store := NewStore(newTestDB(t), WithCascade(cascade))

	p := &Project{Name: " Mobile App ", Description: "checkout flows"}
	require.NoError(t, store.CreateProject(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Mobile App", p.Name)

	got, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "checkout flows", got.Description)

	updated, err := store.UpdateProject(ctx, p.ID, "Mobile", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "Mobile", updated.Name)

	_, err = store.UpdateProject(ctx, "missing", "x", "")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	v := &AppVersion{ProjectID: p.ID, Version: "v1.0.0"}
	require.NoError(t, store.CreateAppVersion(ctx, v))

	require.NoError(t, store.DeleteProject(ctx, p.ID))
	assert.Equal(t, []string{p.ID}, cascade.projectIDs)

	got, err = store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := store.CountAppVersions(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, errs.Is(store.DeleteProject(ctx, p.ID), errs.KindNotFound))
}

func TestListProjectsPagination(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, store.CreateProject(ctx, &Project{ID: id, Name: id}))
	}

	page, next, err := store.ListProjects(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "p2", next)

	page, next, err = store.ListProjects(ctx, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "p3", page[0].ID)
	assert.Empty(t, next)
}

func TestAppVersionUniquenessAndGuardedDelete(t *testing.T) {
	ctx := context.Background()
	refs := fakeRefs{}
	store := NewStore(newTestDB(t), WithReferenceCounter(refs))
	require.NoError(t, store.CreateProject(ctx, &Project{ID: "p1", Name: "P"}))

	v1 := &AppVersion{ProjectID: "p1", Version: "v1.0.0"}
	require.NoError(t, store.CreateAppVersion(ctx, v1))

	err := store.CreateAppVersion(ctx, &AppVersion{ProjectID: "p1", Version: "v1.0.0"})
	assert.True(t, errs.Is(err, errs.KindConflict))

	err = store.CreateAppVersion(ctx, &AppVersion{ProjectID: "nope", Version: "v1"})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	v2 := &AppVersion{ProjectID: "p1", Version: "v2.0.0"}
	require.NoError(t, store.CreateAppVersion(ctx, v2))
	_, err = store.UpdateAppVersion(ctx, "p1", v2.ID, "v1.0.0", "")
	assert.True(t, errs.Is(err, errs.KindConflict))

	refs[v1.ID] = 2
	err = store.DeleteAppVersion(ctx, "p1", v1.ID)
	assert.True(t, errs.Is(err, errs.KindConflict))

	refs[v1.ID] = 0
	require.NoError(t, store.DeleteAppVersion(ctx, "p1", v1.ID))
	got, err := store.GetAppVersion(ctx, "p1", v1.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.True(t, errs.Is(store.DeleteAppVersion(ctx, "p1", v1.ID), errs.KindNotFound))

	versions, err := store.ListAppVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "v2.0.0", versions[0].Version)
}
