package moduletree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewStore(db, nil).AutoMigrate())
	return db
}

type fakeRefs map[string]int64

func (f fakeRefs) CountModuleReferences(_ context.Context, _ *gorm.DB, _, id string) (int64, error) {
	return f[id], nil
}

// txRefs counts through the handle it is given and records what it saw.
type txRefs struct {
	sawModule bool
}

func (r *txRefs) CountModuleReferences(ctx context.Context, tx *gorm.DB, projectID, id string) (int64, error) {
	var n int64
	if err := tx.WithContext(ctx).Model(&Module{}).
		Where("project_id = ? AND id = ?", projectID, id).Count(&n).Error; err != nil {
		return 0, err
	}
	r.sawModule = n == 1
	return 0, nil
}

func strPtr(s string) *string { return &s }

func TestCreateAssignsSiblingOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t), nil)

	auth := &Module{ProjectID: "p1", Name: "Auth"}
	require.NoError(t, store.Create(ctx, auth))
	pay := &Module{ProjectID: "p1", Name: "Payments"}
	require.NoError(t, store.Create(ctx, pay))
	assert.Equal(t, 0, auth.SortOrder)
	assert.Equal(t, 1, pay.SortOrder)

	login := &Module{ProjectID: "p1", ParentID: strPtr(auth.ID), Name: "Login"}
	require.NoError(t, store.Create(ctx, login))
	assert.Equal(t, 0, login.SortOrder)
}

func TestCreateRejectsBadParent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t), nil)

	err := store.Create(ctx, &Module{ProjectID: "p1", ParentID: strPtr("ghost"), Name: "Orphan"})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	other := &Module{ProjectID: "p2", Name: "Other"}
	require.NoError(t, store.Create(ctx, other))
	err = store.Create(ctx, &Module{ProjectID: "p1", ParentID: strPtr(other.ID), Name: "Cross"})
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	err = store.Create(ctx, &Module{ProjectID: "p1", Name: "  "})
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestDeleteGuards(t *testing.T) {
	ctx := context.Background()
	refs := fakeRefs{}
	store := NewStore(newTestDB(t), refs)

	parent := &Module{ProjectID: "p1", Name: "Auth"}
	require.NoError(t, store.Create(ctx, parent))
	child := &Module{ProjectID: "p1", ParentID: strPtr(parent.ID), Name: "Login"}
	require.NoError(t, store.Create(ctx, child))

	err := store.Delete(ctx, "p1", parent.ID)
	assert.True(t, errs.Is(err, errs.KindConflict), "module with children")

	refs[child.ID] = 1
	err = store.Delete(ctx, "p1", child.ID)
	assert.True(t, errs.Is(err, errs.KindConflict), "referenced module")

	modules, err := store.List(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, modules, 2, "failed deletes must not remove anything")

	refs[child.ID] = 0
	require.NoError(t, store.Delete(ctx, "p1", child.ID))
	require.NoError(t, store.Delete(ctx, "p1", parent.ID))
	assert.True(t, errs.Is(store.Delete(ctx, "p1", parent.ID), errs.KindNotFound))
}

func TestDeleteCountsInsideTransaction(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	refs := &txRefs{}
	store := NewStore(db, refs)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m := &Module{ProjectID: "p1", Name: "Auth"}
	require.NoError(t, store.Create(ctx, m))

	// With a single connection, any check issued outside the delete
	// transaction would block until the deadline.
	require.NoError(t, store.Delete(ctx, "p1", m.ID))
	assert.True(t, refs.sawModule)

	got, err := store.Get(ctx, "p1", m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteRollsBackOnCountError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t), failingRefs{})

	m := &Module{ProjectID: "p1", Name: "Auth"}
	require.NoError(t, store.Create(ctx, m))

	require.Error(t, store.Delete(ctx, "p1", m.ID))
	got, err := store.Get(ctx, "p1", m.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

type failingRefs struct{}

func (failingRefs) CountModuleReferences(context.Context, *gorm.DB, string, string) (int64, error) {
	return 0, errors.New("artifact table unavailable")
}

func TestReorderIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t), nil)

	a := &Module{ProjectID: "p1", Name: "A"}
	b := &Module{ProjectID: "p1", Name: "B"}
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	err := store.Reorder(ctx, "p1", []SortItem{{ID: a.ID, SortOrder: 5}, {ID: "unknown", SortOrder: 1}})
	assert.True(t, errs.Is(err, errs.KindConflict))

	got, err := store.Get(ctx, "p1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SortOrder, "failed batch leaves state unchanged")

	require.NoError(t, store.Reorder(ctx, "p1", []SortItem{{ID: a.ID, SortOrder: 2}, {ID: b.ID, SortOrder: 1}}))
	tree, err := store.Tree(ctx, "p1")
	require.NoError(t, err)
	roots := tree.Children("")
	require.Len(t, roots, 2)
	assert.Equal(t, "B", roots[0].Name)
	assert.Equal(t, "A", roots[1].Name)

	err = store.Reorder(ctx, "p1", []SortItem{{ID: a.ID}, {ID: a.ID}})
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t), nil)
	m := &Module{ProjectID: "p1", Name: "Auth"}
	require.NoError(t, store.Create(ctx, m))

	updated, err := store.Update(ctx, "p1", m.ID, "Identity", "login and sso")
	require.NoError(t, err)
	assert.Equal(t, "Identity", updated.Name)

	_, err = store.Update(ctx, "p1", "missing", "x", "")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
