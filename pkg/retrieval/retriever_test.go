package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

type stubEmbedder struct {
	calls atomic.Int32
	err   error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls.Add(1)
	return []float32{1}, s.err
}

type stubVector struct {
	calls  atomic.Int32
	scores map[string]float64
	limits []int
	err    error
}

func (s *stubVector) Upsert(context.Context, string, []float32, index.Metadata) error { return nil }
func (s *stubVector) Remove(context.Context, string) error                            { return nil }
func (s *stubVector) Search(_ context.Context, _ []float32, _ index.Filter, limit int) ([]index.ScoredID, error) {
	s.calls.Add(1)
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return nil, s.err
	}
	var out []index.ScoredID
	for id, sc := range s.scores {
		out = append(out, index.ScoredID{ID: id, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubKeyword struct {
	calls  atomic.Int32
	scores map[string]float64
	err    error
}

func (s *stubKeyword) Upsert(context.Context, string, string, index.Metadata) error { return nil }
func (s *stubKeyword) Remove(context.Context, string) error                          { return nil }
func (s *stubKeyword) Score(_ context.Context, _ string, ids []string) (map[string]float64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]float64{}
	for _, id := range ids {
		if sc, ok := s.scores[id]; ok {
			out[id] = sc
		}
	}
	return out, nil
}

type fixture struct {
	entries  *index.Store
	embedder *stubEmbedder
	vector   *stubVector
	keyword  *stubKeyword
	r        *Retriever
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	entries := index.NewStore(db)
	require.NoError(t, entries.AutoMigrate())

	f := &fixture{
		entries:  entries,
		embedder: &stubEmbedder{},
		vector:   &stubVector{scores: map[string]float64{}},
		keyword:  &stubKeyword{scores: map[string]float64{}},
	}
	f.r = New(entries, index.Services{Embedder: f.embedder, Keyword: f.keyword, Vector: f.vector})
	return f
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func (f *fixture) add(t *testing.T, id string, kind artifact.Kind, title string, updated time.Time) {
	t.Helper()
	require.NoError(t, f.entries.Save(context.Background(), &index.Entry{
		ArtifactKind: kind,
		ArtifactID:   id,
		ProjectID:    "p1",
		Title:        title,
		Snippet:      title + " details",
		Status:       lifecycle.StatusPublished,
		CreatedAt:    updated,
		UpdatedAt:    updated,
		IndexedAt:    updated,
	}))
}

func ptr(f float64) *float64 { return &f }

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestSearchRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{ProjectID: "p1", Query: ""}},
		{"blank query", Request{ProjectID: "p1", Query: "  \t "}},
		{"alpha above one", Request{ProjectID: "p1", Query: "x", Alpha: ptr(1.5)}},
		{"negative threshold", Request{ProjectID: "p1", Query: "x", ScoreThreshold: ptr(-0.1)}},
		{"limit too large", Request{ProjectID: "p1", Query: "x", Limit: 1000}},
		{"unknown type", Request{ProjectID: "p1", Query: "x", Type: "module"}},
		{"unknown status", Request{ProjectID: "p1", Query: "x", Status: "deleted"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.r.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindInvalidArgument), "got %v", err)
		})
	}
}

func TestSearchFusesScores(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "Login", base)
	f.vector.scores["a"] = 0.8
	f.keyword.scores["a"] = 0.4

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "login", Alpha: ptr(0.5)})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	hit := res.Hits[0]
	assert.InDelta(t, 0.6, hit.Score, 1e-9)
	assert.InDelta(t, 0.8, hit.VectorScore, 1e-9)
	assert.InDelta(t, 0.4, hit.KeywordScore, 1e-9)
	assert.Equal(t, artifact.KindPRD, hit.Type)
	assert.Equal(t, []string{}, hit.Metadata.Tags)
	require.NotEmpty(t, hit.Highlights)
	assert.Equal(t, "Login", hit.Highlights[0].Text)
}

func TestSearchAlphaOneIgnoresKeyword(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "A", base)
	f.add(t, "b", artifact.KindPRD, "B", base)
	f.add(t, "c", artifact.KindPRD, "C", base)
	f.vector.scores = map[string]float64{"a": 0.9, "b": 0.5, "c": 0.7}

	var rankings [][]string
	for _, kw := range []map[string]float64{
		{"a": 0, "b": 1, "c": 0},
		{"a": 1, "b": 0, "c": 0.5},
	} {
		f.keyword.scores = kw
		res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1)})
		require.NoError(t, err)
		rankings = append(rankings, ids(res.Hits))
	}
	assert.Equal(t, []string{"a", "c", "b"}, rankings[0])
	assert.Equal(t, rankings[0], rankings[1])
	assert.Zero(t, f.keyword.calls.Load())
}

func TestSearchAlphaZeroIgnoresVector(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "A", base)
	f.add(t, "b", artifact.KindPRD, "B", base)
	f.keyword.scores = map[string]float64{"a": 0.2, "b": 0.6}

	var rankings [][]string
	for _, vec := range []map[string]float64{
		{"a": 1, "b": 0},
		{"a": 0, "b": 1},
	} {
		f.vector.scores = vec
		res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(0)})
		require.NoError(t, err)
		rankings = append(rankings, ids(res.Hits))
		for _, h := range res.Hits {
			assert.Equal(t, h.KeywordScore, h.Score)
		}
	}
	assert.Equal(t, []string{"b", "a"}, rankings[0])
	assert.Equal(t, rankings[0], rankings[1])
	assert.Zero(t, f.vector.calls.Load())
	assert.Zero(t, f.embedder.calls.Load())
}

func TestSearchThreshold(t *testing.T) {
	f := newFixture(t)
	for i, sc := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		id := fmt.Sprintf("a%d", i)
		f.add(t, id, artifact.KindPRD, id, base)
		f.vector.scores[id] = sc
	}
	for _, th := range []float64{0, 0.3, 0.55, 0.9, 1} {
		res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1), ScoreThreshold: ptr(th)})
		require.NoError(t, err)
		for _, h := range res.Hits {
			assert.GreaterOrEqual(t, h.Score, th)
		}
	}
	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1), ScoreThreshold: ptr(0.55)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a4", "a3"}, ids(res.Hits))
}

func TestSearchZeroThresholdKeepsZeroScores(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "A", base)
	f.add(t, "b", artifact.KindPRD, "B", base)
	f.vector.scores = map[string]float64{"a": 0.4, "b": 0}

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1), ScoreThreshold: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Hits))
	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.Hits[1].Score)

	res, err = f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1), ScoreThreshold: ptr(0.01)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res.Hits))
}

func TestSearchTieBreakAndLimit(t *testing.T) {
	f := newFixture(t)
	f.add(t, "old", artifact.KindPRD, "Old", base)
	f.add(t, "new", artifact.KindPRD, "New", base.Add(time.Hour))
	f.add(t, "top", artifact.KindPRD, "Top", base)
	f.vector.scores = map[string]float64{"old": 0.5, "new": 0.5, "top": 0.9}

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1), Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"top", "new"}, ids(res.Hits))
	assert.Equal(t, 3, res.Total)
}

func TestSearchScopesByType(t *testing.T) {
	f := newFixture(t)
	f.add(t, "p", artifact.KindPRD, "Login PRD", base)
	f.add(t, "t", artifact.KindTestCase, "Login case", base)
	f.keyword.scores = map[string]float64{"p": 1, "t": 1}

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "login", Type: TypeTestCase, Alpha: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, ids(res.Hits))
}

func TestSearchIgnoresVectorHitsWithoutEntry(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "A", base)
	f.vector.scores = map[string]float64{"a": 0.5, "archived": 0.99}

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res.Hits))
}

func TestSearchWidensPastStaleVectorHits(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "A", base)
	f.add(t, "b", artifact.KindPRD, "B", base)
	f.vector.scores = map[string]float64{"a": 0.3, "b": 0.2}
	for i := 0; i < 5; i++ {
		f.vector.scores[fmt.Sprintf("gone-%d", i)] = 0.9
	}

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(1), ScoreThreshold: ptr(0.1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Hits))
	assert.InDelta(t, 0.2, res.Hits[1].VectorScore, 1e-9)
	assert.Equal(t, []int{4, 8}, f.vector.limits)
}

func TestSearchDependencyFailure(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", artifact.KindPRD, "A", base)

	f.keyword.err = errors.New("keyword down")
	_, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(0.5)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDependencyFailure))

	f.keyword.err = nil
	f.embedder.err = errors.New("embedder down")
	_, err = f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Alpha: ptr(0.5)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDependencyFailure))
}

func TestSearchNoCandidates(t *testing.T) {
	f := newFixture(t)
	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Zero(t, f.embedder.calls.Load())
}

func TestSearchUsesDefaults(t *testing.T) {
	f := newFixture(t)
	holder := NewDefaultsHolder(Defaults{Alpha: 0, ScoreThreshold: 0.5, Limit: 1})
	f.r = New(f.entries, index.Services{Embedder: f.embedder, Keyword: f.keyword, Vector: f.vector}, WithDefaults(holder))
	f.add(t, "a", artifact.KindPRD, "A", base)
	f.add(t, "b", artifact.KindPRD, "B", base)
	f.keyword.scores = map[string]float64{"a": 0.6, "b": 0.8}

	res, err := f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Hits))
	assert.Equal(t, 0.5, res.ScoreThreshold)

	require.NoError(t, holder.Store(Defaults{Alpha: 0, ScoreThreshold: 0.7, Limit: 5}))
	res, err = f.r.Search(context.Background(), Request{ProjectID: "p1", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Hits))
	assert.Equal(t, 0.7, f.r.Defaults().ScoreThreshold)
}

func TestNormalizeKeyword(t *testing.T) {
	assert.Equal(t, map[string]float64{"a": 0.5, "b": 1}, NormalizeKeyword(map[string]float64{"a": 0.5, "b": 1}))
	assert.Equal(t, map[string]float64{"a": 0.25, "b": 1}, NormalizeKeyword(map[string]float64{"a": 2, "b": 8}))
	assert.Empty(t, NormalizeKeyword(nil))
}

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, DefaultDefaults().Validate())
	assert.Error(t, Defaults{Alpha: 2, Limit: 10}.Validate())
	assert.Error(t, Defaults{Alpha: 0.5, Limit: 0}.Validate())

	var h *DefaultsHolder
	assert.Equal(t, DefaultDefaults(), h.Load())
	h = NewDefaultsHolder(DefaultDefaults())
	assert.Error(t, h.Store(Defaults{ScoreThreshold: 3, Limit: 1}))
	assert.Equal(t, DefaultDefaults(), h.Load())
}

func TestHighlights(t *testing.T) {
	got := highlights("login sms", "SMS login: enter the SMS code")
	require.Len(t, got, 3)
	assert.Equal(t, Highlight{Start: 0, End: 3, Text: "SMS"}, got[0])
	assert.Equal(t, "login", got[1].Text)
	assert.Equal(t, "SMS", got[2].Text)

	assert.Empty(t, highlights("x", ""))
}
