// Package retrieval implements hybrid search over the published artifacts
// of a project. Each candidate gets a vector similarity score and a
// keyword score, both in [0,1], fused as alpha*vector + (1-alpha)*keyword.
// Alpha 1 ranks purely by vector similarity and alpha 0 purely by keyword
// match.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
)

var tracer = otel.Tracer("github.com/Yinkun-Cheng/RAG/pkg/retrieval")

// Search types.
const (
	TypePRD      = "prd"
	TypeTestCase = "testcase"
	TypeAll      = "all"
)

// Request is one search. Nil Alpha, nil ScoreThreshold and zero Limit take
// the current defaults.
type Request struct {
	ProjectID      string           `json:"-"`
	Query          string           `json:"query" validate:"required"`
	Type           string           `json:"type,omitempty" validate:"omitempty,oneof=prd testcase all"`
	ModuleID       string           `json:"moduleId,omitempty"`
	AppVersionID   string           `json:"appVersionId,omitempty"`
	Status         lifecycle.Status `json:"status,omitempty"`
	Alpha          *float64         `json:"alpha,omitempty" validate:"omitempty,gte=0,lte=1"`
	ScoreThreshold *float64         `json:"scoreThreshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Limit          int              `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
}

// HitMetadata describes the artifact behind a hit.
type HitMetadata struct {
	Code         string           `json:"code"`
	ModuleID     *string          `json:"moduleId"`
	AppVersionID *string          `json:"appVersionId"`
	Status       lifecycle.Status `json:"status"`
	Tags         []string         `json:"tags"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Hit is one ranked result.
type Hit struct {
	ID           string        `json:"id"`
	Type         artifact.Kind `json:"type"`
	Title        string        `json:"title"`
	Snippet      string        `json:"snippet"`
	Score        float64       `json:"score"`
	VectorScore  float64       `json:"vectorScore"`
	KeywordScore float64       `json:"keywordScore"`
	Metadata     HitMetadata   `json:"metadata"`
	Highlights   []Highlight   `json:"highlights"`
}

// Result is the response to a search.
type Result struct {
	Hits           []Hit   `json:"hits"`
	Total          int     `json:"total"`
	Alpha          float64 `json:"alpha"`
	ScoreThreshold float64 `json:"scoreThreshold"`
	TookMs         int64   `json:"tookMs"`
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithDefaults sets the source of request defaults.
func WithDefaults(h *DefaultsHolder) Option {
	return func(r *Retriever) { r.defaults = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// Retriever runs hybrid searches.
type Retriever struct {
	entries  *index.Store
	svc      index.Services
	defaults *DefaultsHolder
	logger   *slog.Logger
}

// New creates a Retriever over the entry store and the external services.
func New(entries *index.Store, svc index.Services, opts ...Option) *Retriever {
	r := &Retriever{
		entries:  entries,
		svc:      svc,
		defaults: NewDefaultsHolder(DefaultDefaults()),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Defaults returns the defaults currently applied to requests.
func (r *Retriever) Defaults() Defaults { return r.defaults.Load() }

type params struct {
	alpha     float64
	threshold float64
	limit     int
	filter    index.Filter
	query     string
}

func (r *Retriever) resolve(req Request) (params, error) {
	d := r.defaults.Load()
	p := params{alpha: d.Alpha, threshold: d.ScoreThreshold, limit: d.Limit}

	p.query = strings.TrimSpace(req.Query)
	if p.query == "" {
		return p, errs.InvalidArgument("query must not be empty")
	}
	if req.ProjectID == "" {
		return p, errs.InvalidArgument("project id is required")
	}
	if req.Alpha != nil {
		if *req.Alpha < 0 || *req.Alpha > 1 {
			return p, errs.InvalidArgument("alpha must be within [0,1], got %v", *req.Alpha)
		}
		p.alpha = *req.Alpha
	}
	if req.ScoreThreshold != nil {
		if *req.ScoreThreshold < 0 || *req.ScoreThreshold > 1 {
			return p, errs.InvalidArgument("score threshold must be within [0,1], got %v", *req.ScoreThreshold)
		}
		p.threshold = *req.ScoreThreshold
	}
	if req.Limit < 0 || req.Limit > MaxLimit {
		return p, errs.InvalidArgument("limit must be within [1,%d], got %d", MaxLimit, req.Limit)
	}
	if req.Limit > 0 {
		p.limit = req.Limit
	}

	p.filter = index.Filter{
		ProjectID:    req.ProjectID,
		ModuleID:     req.ModuleID,
		AppVersionID: req.AppVersionID,
		Status:       req.Status,
	}
	switch req.Type {
	case "", TypeAll:
	case TypePRD:
		p.filter.Kinds = []artifact.Kind{artifact.KindPRD}
	case TypeTestCase:
		p.filter.Kinds = []artifact.Kind{artifact.KindTestCase}
	default:
		return p, errs.InvalidArgument("unknown search type %q", req.Type)
	}
	if req.Status != "" {
		if _, err := lifecycle.ParseStatus(string(req.Status)); err != nil {
			return p, errs.InvalidArgument("unknown status %q", req.Status)
		}
	}
	return p, nil
}

// Search ranks the indexed artifacts of a project against req. Only
// artifacts with an index entry, that is published ones, are candidates.
// If either scoring service fails the whole search fails.
func (r *Retriever) Search(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "retrieval.Search", trace.WithAttributes(
		attribute.String("project.id", req.ProjectID),
		attribute.String("type", req.Type),
	))
	defer func() {
		metrics.ObserveSearch(err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p, err := r.resolve(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Float64("alpha", p.alpha), attribute.Float64("threshold", p.threshold))

	candidates, err := r.entries.Candidates(ctx, p.filter)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	res = &Result{Hits: []Hit{}, Alpha: p.alpha, ScoreThreshold: p.threshold}
	if len(candidates) == 0 {
		res.TookMs = time.Since(start).Milliseconds()
		return res, nil
	}

	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ArtifactID
	}
	inScope := mapset.NewThreadUnsafeSet(ids...)

	var vector, keyword map[string]float64
	g, gctx := errgroup.WithContext(ctx)
	if p.alpha > 0 {
		g.Go(func() error {
			var err error
			vector, err = r.vectorScores(gctx, p, inScope)
			return err
		})
	}
	if p.alpha < 1 {
		g.Go(func() error {
			var err error
			keyword, err = r.keywordScores(gctx, p.query, ids)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range candidates {
		e := &candidates[i]
		v, k := vector[e.ArtifactID], keyword[e.ArtifactID]
		fused := clamp(p.alpha*v + (1-p.alpha)*k)
		if fused < p.threshold {
			continue
		}
		res.Hits = append(res.Hits, Hit{
			ID:           e.ArtifactID,
			Type:         e.ArtifactKind,
			Title:        e.Title,
			Snippet:      e.Snippet,
			Score:        fused,
			VectorScore:  v,
			KeywordScore: k,
			Metadata: HitMetadata{
				Code:         e.Code,
				ModuleID:     e.ModuleID,
				AppVersionID: e.AppVersionID,
				Status:       e.Status,
				Tags:         nonNil([]string(e.Tags)),
				CreatedAt:    e.CreatedAt,
				UpdatedAt:    e.UpdatedAt,
			},
		})
	}

	Rank(res.Hits)
	res.Total = len(res.Hits)
	if len(res.Hits) > p.limit {
		res.Hits = res.Hits[:p.limit]
	}
	for i := range res.Hits {
		res.Hits[i].Highlights = highlights(p.query, res.Hits[i].Title+"\n"+res.Hits[i].Snippet)
	}
	res.TookMs = time.Since(start).Milliseconds()
	r.logger.Debug("search completed", "projectID", req.ProjectID,
		"candidates", len(candidates), "hits", res.Total, "tookMs", res.TookMs)
	return res, nil
}

// maxVectorRounds bounds how often the vector window is widened.
const maxVectorRounds = 3

func (r *Retriever) vectorScores(ctx context.Context, p params, inScope mapset.Set[string]) (map[string]float64, error) {
	vec, err := r.svc.Embedder.Embed(ctx, p.query)
	if err != nil {
		return nil, errs.DependencyFailure("embedding", err).WithOp("search")
	}
	// The external index may still hold documents whose entry is gone while
	// their removal is pending. Those take result slots, so the window widens
	// until every in-scope candidate is scored or the index runs dry.
	want := inScope.Cardinality()
	limit := 2 * want
	out := make(map[string]float64, want)
	for round := 0; ; round++ {
		hits, err := r.svc.Vector.Search(ctx, vec, p.filter, limit)
		if err != nil {
			return nil, errs.DependencyFailure("vector-index", err).WithOp("search")
		}
		for _, h := range hits {
			if inScope.Contains(h.ID) {
				out[h.ID] = clamp(h.Score)
			}
		}
		if len(hits) < limit || len(out) >= want || round == maxVectorRounds {
			return out, nil
		}
		limit *= 2
	}
}

func (r *Retriever) keywordScores(ctx context.Context, query string, ids []string) (map[string]float64, error) {
	scores, err := r.svc.Keyword.Score(ctx, query, ids)
	if err != nil {
		return nil, errs.DependencyFailure("keyword-index", err).WithOp("search")
	}
	return NormalizeKeyword(scores), nil
}

// NormalizeKeyword maps raw keyword scores into [0,1]. Scores already in
// range are kept; otherwise every score is divided by the maximum.
func NormalizeKeyword(scores map[string]float64) map[string]float64 {
	var peak float64
	for _, s := range scores {
		if s > peak {
			peak = s
		}
	}
	out := make(map[string]float64, len(scores))
	for id, s := range scores {
		if s < 0 {
			s = 0
		}
		if peak > 1 {
			s /= peak
		}
		out[id] = s
	}
	return out
}

// Rank orders hits by score, then most recently updated, then id.
func Rank(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Metadata.UpdatedAt.Equal(b.Metadata.UpdatedAt) {
			return a.Metadata.UpdatedAt.After(b.Metadata.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
