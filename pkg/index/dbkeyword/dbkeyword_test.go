package dbkeyword

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

func setup(t *testing.T) *Index {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	x := New(db)
	require.NoError(t, x.AutoMigrate())
	return x
}

func TestScoreWeightsTitleAndBody(t *testing.T) {
	ctx := context.Background()
	x := setup(t)
	require.NoError(t, x.Upsert(ctx, "a", "Login page accepts SMS code", index.Metadata{ProjectID: "p1", Title: "SMS login"}))
	require.NoError(t, x.Upsert(ctx, "b", "Users can login with SMS", index.Metadata{ProjectID: "p1", Title: "Account"}))
	require.NoError(t, x.Upsert(ctx, "c", "Export to PDF", index.Metadata{ProjectID: "p1", Title: "Reports"}))

	scores, err := x.Score(ctx, "SMS login", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores["a"], 1e-9)
	assert.InDelta(t, 0.7, scores["b"], 1e-9)
	assert.NotContains(t, scores, "c")
}

func TestScoreOnlyCandidates(t *testing.T) {
	ctx := context.Background()
	x := setup(t)
	require.NoError(t, x.Upsert(ctx, "a", "login", index.Metadata{ProjectID: "p1"}))
	require.NoError(t, x.Upsert(ctx, "b", "login", index.Metadata{ProjectID: "p1"}))

	scores, err := x.Score(ctx, "login", []string{"b"})
	require.NoError(t, err)
	assert.Len(t, scores, 1)
	assert.Contains(t, scores, "b")
}

func TestUpsertReplacesAndRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	x := setup(t)
	require.NoError(t, x.Upsert(ctx, "a", "old words", index.Metadata{ProjectID: "p1"}))
	require.NoError(t, x.Upsert(ctx, "a", "new words", index.Metadata{ProjectID: "p1"}))

	scores, err := x.Score(ctx, "old", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, scores)

	require.NoError(t, x.Remove(ctx, "a"))
	require.NoError(t, x.Remove(ctx, "a"))
}

func TestEmptyQuery(t *testing.T) {
	scores, err := setup(t).Score(context.Background(), "  !! ", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, scores)
}
