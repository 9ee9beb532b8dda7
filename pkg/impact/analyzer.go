package impact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
	"github.com/Yinkun-Cheng/RAG/pkg/retrieval"
)

var tracer = otel.Tracer("github.com/Yinkun-Cheng/RAG/pkg/impact")

// Searcher finds test cases related to a PRD.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// VersionLookup resolves app versions.
type VersionLookup interface {
	GetAppVersion(ctx context.Context, projectID, id string) (*project.AppVersion, error)
}

// Analyzer produces impact reports.
type Analyzer struct {
	artifacts *artifact.Store
	versions  VersionLookup
	search    Searcher
	reasoner  reasoning.Service
	cfg       *Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer. search may be nil, which disables
// module search regardless of the candidate policy.
func NewAnalyzer(artifacts *artifact.Store, versions VersionLookup, search Searcher, reasoner reasoning.Service, cfg *Config, logger *slog.Logger) *Analyzer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		artifacts: artifacts,
		versions:  versions,
		search:    search,
		reasoner:  reasoner,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// job is one reasoning call: a PRD change paired with a candidate test
// case, or with no candidate.
type job struct {
	change    int
	req       reasoning.Request
	candidate *artifact.TestCase
}

// Analyze compares the PRDs of two app versions of a project. Reasoning
// failures degrade the affected pair to a fallback action; only failures
// to read the versions abort the analysis.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (rep *Report, err error) {
	ctx, span := tracer.Start(ctx, "impact.Analyze", trace.WithAttributes(
		attribute.String("project.id", req.ProjectID),
		attribute.String("base.version", req.BaseVersionID),
		attribute.String("compare.version", req.CompareVersionID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := a.validate(ctx, req); err != nil {
		return nil, err
	}

	base, err := a.artifacts.ListPRDsForVersion(ctx, req.ProjectID, req.BaseVersionID, req.ModuleID)
	if err != nil {
		return nil, errs.DependencyFailure("artifact-store", err).WithOp("impact.diff")
	}
	compare, err := a.artifacts.ListPRDsForVersion(ctx, req.ProjectID, req.CompareVersionID, req.ModuleID)
	if err != nil {
		return nil, errs.DependencyFailure("artifact-store", err).WithOp("impact.diff")
	}

	var changes []PRDChange
	var pairs []prdPair
	for _, p := range matchPRDs(base, compare, a.cfg.Identity) {
		ct, changed := p.changeType()
		if !changed {
			continue
		}
		diff, err := diffText(p)
		if err != nil {
			return nil, errs.Internal("impact.diff", err)
		}
		cur := p.current()
		c := PRDChange{
			ChangeType:        ct,
			Code:              cur.Code,
			Title:             cur.Title,
			ModuleID:          cur.ModuleID,
			Diff:              diff,
			AffectedTestCases: []AffectedTestCase{},
		}
		if p.Base != nil {
			c.BasePRDID, c.BaseVersion = &p.Base.ID, p.Base.Version
		}
		if p.Compare != nil {
			c.ComparePRDID, c.CompareVersion = &p.Compare.ID, p.Compare.Version
		}
		changes = append(changes, c)
		pairs = append(pairs, p)
	}
	span.SetAttributes(attribute.Int("changes", len(changes)))

	var jobs []job
	for i, p := range pairs {
		cands, err := a.candidates(ctx, req.ProjectID, p)
		if err != nil {
			return nil, err
		}
		r := reasoning.Request{
			ChangeType: changes[i].ChangeType,
			PRDTitle:   changes[i].Title,
			DiffText:   changes[i].Diff,
		}
		if len(cands) == 0 {
			jobs = append(jobs, job{change: i, req: r})
			continue
		}
		for k := range cands {
			jr := r
			jr.CandidateID = cands[k].ID
			jr.CandidateText = cands[k].IndexText()
			jobs = append(jobs, job{change: i, req: jr, candidate: &cands[k]})
		}
	}

	entries, fallbacks, err := a.classify(ctx, jobs)
	if err != nil {
		return nil, err
	}
	for i, j := range jobs {
		changes[j.change].AffectedTestCases = append(changes[j.change].AffectedTestCases, entries[i])
	}

	rep = &Report{
		ProjectID:        req.ProjectID,
		BaseVersionID:    req.BaseVersionID,
		CompareVersionID: req.CompareVersionID,
		ModuleID:         req.ModuleID,
		Details:          []PRDChange{},
		FallbackCount:    fallbacks,
		GeneratedAt:      a.now().UTC(),
	}
	for i := range changes {
		c := &changes[i]
		c.AffectedTestCases = mergeCreates(c.AffectedTestCases)
		if c.ChangeType == reasoning.ChangeAdded && !hasAction(c.AffectedTestCases, reasoning.ActionCreate) {
			c.AffectedTestCases = append(c.AffectedTestCases, AffectedTestCase{
				ModuleID:    c.ModuleID,
				Action:      reasoning.ActionCreate,
				Reason:      fmt.Sprintf("new requirement %q needs dedicated test coverage", c.Title),
				Suggestions: []string{"write test cases for " + c.Title},
			})
		}
		sortAffected(c.AffectedTestCases)
		c.ImpactLevel = prdLevel(c, a.cfg.HighActionCount)
		rep.count(c)
	}
	sortChanges(changes)
	rep.Details = append(rep.Details, changes...)
	rep.ImpactLevel = overallLevel(changes, a.cfg.HighShare)

	metrics.ObserveImpactReport(string(rep.ImpactLevel))
	a.logger.Info("impact analysis completed", "projectID", req.ProjectID,
		"base", req.BaseVersionID, "compare", req.CompareVersionID,
		"changes", len(changes), "level", rep.ImpactLevel, "fallbacks", fallbacks)
	return rep, nil
}

func (a *Analyzer) validate(ctx context.Context, req Request) error {
	if req.BaseVersionID == "" || req.CompareVersionID == "" {
		return errs.InvalidArgument("base and compare version ids are required")
	}
	if req.BaseVersionID == req.CompareVersionID {
		return errs.InvalidArgument("base and compare versions must differ")
	}
	for _, id := range []string{req.BaseVersionID, req.CompareVersionID} {
		v, err := a.versions.GetAppVersion(ctx, req.ProjectID, id)
		if err != nil {
			return errs.DependencyFailure("artifact-store", err).WithOp("impact.validate")
		}
		if v == nil {
			return errs.InvalidArgument("app version %q does not belong to project %q", id, req.ProjectID)
		}
	}
	return nil
}

// candidates collects the test cases related to a PRD pair under the
// candidate policy, without duplicates. A failed search is logged and
// skipped; the direct links still apply.
func (a *Analyzer) candidates(ctx context.Context, projectID string, p prdPair) ([]artifact.TestCase, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	var ordered []string
	add := func(id string) {
		if seen.Add(id) {
			ordered = append(ordered, id)
		}
	}

	if a.cfg.Candidates.DirectLink {
		linked, err := a.artifacts.ListTestCasesByPRD(ctx, projectID, p.ids())
		if err != nil {
			return nil, errs.DependencyFailure("artifact-store", err).WithOp("impact.candidates")
		}
		for _, tc := range linked {
			add(tc.ID)
		}
	}

	if a.cfg.Candidates.ModuleSearch && a.search != nil {
		cur := p.current()
		sr := retrieval.Request{
			ProjectID:      projectID,
			Query:          searchQuery(cur),
			Type:           retrieval.TypeTestCase,
			Alpha:          &a.cfg.SearchAlpha,
			ScoreThreshold: &a.cfg.MinSimilarity,
			Limit:          a.cfg.SearchLimit,
		}
		if cur.ModuleID != nil {
			sr.ModuleID = *cur.ModuleID
		}
		res, err := a.search.Search(ctx, sr)
		if err != nil {
			a.logger.Warn("candidate search failed, using direct links only", "prd", cur.Code, "error", err)
		} else {
			for _, h := range res.Hits {
				add(h.ID)
			}
		}
	}

	if len(ordered) == 0 {
		return nil, nil
	}
	tcs, err := a.artifacts.GetTestCases(ctx, projectID, ordered)
	if err != nil {
		return nil, errs.DependencyFailure("artifact-store", err).WithOp("impact.candidates")
	}
	return tcs, nil
}

func searchQuery(p *artifact.PRD) string {
	content := []rune(p.Content)
	if len(content) > 500 {
		content = content[:500]
	}
	return strings.TrimSpace(p.Title + "\n" + string(content))
}

// classify runs the reasoning calls with bounded concurrency. A failed
// call yields the fallback entry for its pair.
func (a *Analyzer) classify(ctx context.Context, jobs []job) ([]AffectedTestCase, int, error) {
	out := make([]AffectedTestCase, len(jobs))
	failed := make([]bool, len(jobs))
	limit := int64(a.cfg.Concurrency)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	var wg sync.WaitGroup

	for i := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, 0, err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			j := jobs[i]
			d, err := a.reasoner.ClassifyImpact(ctx, j.req)
			if err != nil {
				a.logger.Warn("reasoning failed, using fallback", "prd", j.req.PRDTitle,
					"testcaseID", j.req.CandidateID, "error", err)
				d = fallback(j.req, err)
				failed[i] = true
			}
			out[i] = entry(j, d)
			out[i].Fallback = failed[i]
		}(i)
	}
	wg.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return out, n, nil
}

// fallback is the decision used when the reasoning service fails. A pair
// with a candidate is marked for update so a human reviews it; without a
// candidate a new test case is suggested unless the PRD was deleted.
func fallback(req reasoning.Request, err error) *reasoning.Decision {
	reason := fmt.Sprintf("automatic classification unavailable (%v); review manually", err)
	switch {
	case req.CandidateText != "":
		return &reasoning.Decision{Action: reasoning.ActionUpdate, Reason: reason, Suggestions: []string{"review the test case against the changed requirement"}}
	case req.ChangeType == reasoning.ChangeDeleted:
		return &reasoning.Decision{Action: reasoning.ActionKeep, Reason: reason, Suggestions: []string{}}
	}
	return &reasoning.Decision{Action: reasoning.ActionCreate, Reason: reason, Suggestions: []string{"write test cases for " + req.PRDTitle}}
}

func entry(j job, d *reasoning.Decision) AffectedTestCase {
	e := AffectedTestCase{
		Action:      d.Action,
		Reason:      d.Reason,
		Suggestions: d.Suggestions,
	}
	if e.Suggestions == nil {
		e.Suggestions = []string{}
	}
	if tc := j.candidate; tc != nil {
		e.Code, e.Title, e.ModuleID = tc.Code, tc.Title, tc.ModuleID
		id := tc.ID
		if d.Action == reasoning.ActionCreate {
			e.RelatedTestCaseID = &id
		} else {
			e.TestCaseID = &id
		}
	}
	return e
}

// mergeCreates folds all create actions of one PRD into a single entry.
func mergeCreates(in []AffectedTestCase) []AffectedTestCase {
	out := make([]AffectedTestCase, 0, len(in))
	created := -1
	for _, e := range in {
		if e.Action != reasoning.ActionCreate {
			out = append(out, e)
			continue
		}
		if created < 0 {
			e.Code, e.Title = "", ""
			created = len(out)
			out = append(out, e)
			continue
		}
		merged := &out[created]
		merged.Suggestions = appendUnique(merged.Suggestions, e.Suggestions...)
		merged.Fallback = merged.Fallback && e.Fallback
	}
	return out
}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

func hasAction(entries []AffectedTestCase, a reasoning.Action) bool {
	for _, e := range entries {
		if e.Action == a {
			return true
		}
	}
	return false
}

var actionOrder = map[reasoning.Action]int{
	reasoning.ActionCreate: 0, reasoning.ActionUpdate: 1, reasoning.ActionDeprecate: 2, reasoning.ActionKeep: 3,
}

func sortAffected(entries []AffectedTestCase) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if actionOrder[a.Action] != actionOrder[b.Action] {
			return actionOrder[a.Action] < actionOrder[b.Action]
		}
		return a.Code < b.Code
	})
}

var changeOrder = map[reasoning.ChangeType]int{
	reasoning.ChangeDeleted: 0, reasoning.ChangeModified: 1, reasoning.ChangeAdded: 2,
}

func sortChanges(changes []PRDChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if changeOrder[a.ChangeType] != changeOrder[b.ChangeType] {
			return changeOrder[a.ChangeType] < changeOrder[b.ChangeType]
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Title < b.Title
	})
}

func (r *Report) count(c *PRDChange) {
	switch c.ChangeType {
	case reasoning.ChangeAdded:
		r.PRDChanges.Added++
	case reasoning.ChangeModified:
		r.PRDChanges.Modified++
	case reasoning.ChangeDeleted:
		r.PRDChanges.Deleted++
	}
	for _, e := range c.AffectedTestCases {
		switch e.Action {
		case reasoning.ActionCreate:
			r.TestCaseActions.Create++
		case reasoning.ActionUpdate:
			r.TestCaseActions.Update++
		case reasoning.ActionDeprecate:
			r.TestCaseActions.Deprecate++
		case reasoning.ActionKeep:
			r.TestCaseActions.Keep++
		}
	}
}
