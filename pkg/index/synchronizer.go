package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/ha"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
)

var tracer = otel.Tracer("github.com/Yinkun-Cheng/RAG/pkg/index")

// Services bundles the external collaborators of the synchronizer.
type Services struct {
	Embedder EmbeddingService
	Keyword  KeywordIndexService
	Vector   VectorIndexService
}

// Notifier wakes the deindex workers.
type Notifier interface {
	Notify()
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithLocker sets the per-artifact lock shared with the transition path.
func WithLocker(l ha.TransitionLocker) Option {
	return func(s *Synchronizer) { s.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// Synchronizer maintains index membership for published artifacts.
type Synchronizer struct {
	db        *gorm.DB
	artifacts *artifact.Store
	entries   *Store
	jobs      *jobs.JobStore
	svc       Services
	locker    ha.TransitionLocker
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(db *gorm.DB, artifacts *artifact.Store, jobStore *jobs.JobStore, svc Services, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		db:        db,
		artifacts: artifacts,
		entries:   NewStore(db),
		jobs:      jobStore,
		svc:       svc,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.locker == nil {
		s.locker = ha.NewLocalLocker(ha.DefaultLockConfig().TransitionTimeout)
	}
	return s
}

// SetNotifier registers the worker pool to wake after deindex jobs are
// queued. Must be called before serving requests.
func (s *Synchronizer) SetNotifier(n Notifier) { s.notifier = n }

// Notify wakes the deindex workers, if any.
func (s *Synchronizer) Notify() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

// Entries returns the entry store.
func (s *Synchronizer) Entries() *Store { return s.entries }

// Locker returns the per-artifact transition lock.
func (s *Synchronizer) Locker() ha.TransitionLocker { return s.locker }

// LoadDocument reads an artifact and builds its document.
func (s *Synchronizer) LoadDocument(ctx context.Context, ref artifact.Ref) (*Document, error) {
	switch ref.Kind {
	case artifact.KindPRD:
		p, err := s.artifacts.GetPRD(ctx, ref.ProjectID, ref.ID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, errs.NotFound("prd", ref.ID)
		}
		d := DocumentFromPRD(p)
		return &d, nil
	case artifact.KindTestCase:
		tc, err := s.artifacts.GetTestCase(ctx, ref.ProjectID, ref.ID)
		if err != nil {
			return nil, err
		}
		if tc == nil {
			return nil, errs.NotFound("testcase", ref.ID)
		}
		d := DocumentFromTestCase(tc)
		return &d, nil
	}
	return nil, errs.InvalidArgument("unknown artifact type %q", ref.Kind)
}

// Upsert indexes doc. It embeds the text and pushes it to the keyword and
// vector services first; only then does it run commit and save the entry
// in one transaction. If any step fails nothing committed changes and the
// external services are restored to their previous state.
func (s *Synchronizer) Upsert(ctx context.Context, doc Document, commit func(tx *gorm.DB) error) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "index.Upsert", trace.WithAttributes(
		attribute.String("artifact.kind", string(doc.Ref.Kind)),
		attribute.String("artifact.id", doc.Ref.ID),
	))
	defer span.End()

	e, prev, err := s.prepare(ctx, doc, false)
	if err != nil {
		return nil, spanErr(span, err)
	}

	if err := s.push(ctx, e); err != nil {
		s.restore(ctx, prev, doc.Ref)
		return nil, spanErr(span, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if commit != nil {
			if err := commit(tx); err != nil {
				return err
			}
		}
		return s.entries.WithTx(tx).Save(ctx, e)
	})
	if err != nil {
		s.restore(ctx, prev, doc.Ref)
		return nil, spanErr(span, err)
	}
	return e, nil
}

// prepare builds the entry for doc, reusing the stored embedding when the
// text is unchanged unless force is set.
func (s *Synchronizer) prepare(ctx context.Context, doc Document, force bool) (*Entry, *Entry, error) {
	prev, err := s.entries.Get(ctx, doc.Ref)
	if err != nil {
		return nil, nil, err
	}
	e := doc.entry(s.now())
	if !force && prev != nil && prev.TextHash == e.TextHash && len(prev.Embedding) > 0 {
		e.Embedding = prev.Embedding
		return e, prev, nil
	}

	start := time.Now()
	vec, err := s.svc.Embedder.Embed(ctx, doc.Text)
	metrics.ObserveIndexOp("embed", backendName(s.svc.Embedder), err, time.Since(start))
	if err != nil {
		return nil, nil, errs.DependencyFailure("embedding", err).WithID(string(doc.Ref.Kind), doc.Ref.ID)
	}
	if len(vec) == 0 {
		return nil, nil, errs.DependencyFailure("embedding", errors.New("empty embedding")).WithID(string(doc.Ref.Kind), doc.Ref.ID)
	}
	e.Embedding = vec
	return e, prev, nil
}

// push writes e to both external services.
func (s *Synchronizer) push(ctx context.Context, e *Entry) error {
	meta := e.Metadata()

	start := time.Now()
	err := s.svc.Keyword.Upsert(ctx, e.ArtifactID, e.Text, meta)
	metrics.ObserveIndexOp("upsert", backendName(s.svc.Keyword), err, time.Since(start))
	if err != nil {
		return errs.DependencyFailure("keyword-index", err).WithID(string(e.ArtifactKind), e.ArtifactID)
	}

	start = time.Now()
	err = s.svc.Vector.Upsert(ctx, e.ArtifactID, e.Embedding, meta)
	metrics.ObserveIndexOp("upsert", backendName(s.svc.Vector), err, time.Since(start))
	if err != nil {
		return errs.DependencyFailure("vector-index", err).WithID(string(e.ArtifactKind), e.ArtifactID)
	}
	return nil
}

// restore puts the external services back to prev, or removes the document
// when it was not indexed before. A failed removal is handed to the
// deindex queue.
func (s *Synchronizer) restore(ctx context.Context, prev *Entry, ref artifact.Ref) {
	bg := context.WithoutCancel(ctx)
	if prev != nil {
		if err := s.push(bg, prev); err != nil {
			s.logger.Error("failed to restore previous index content", "artifactID", ref.ID, "error", err)
		}
		return
	}
	if err := s.deindex(bg, ref); err != nil {
		s.logger.Warn("compensating index removal failed, queueing deindex job", "artifactID", ref.ID, "error", err)
		if _, qerr := s.jobs.Enqueue(bg, newJob(ref, jobs.ReasonDelete, "system")); qerr != nil {
			s.logger.Error("failed to queue deindex job", "artifactID", ref.ID, "error", qerr)
		}
		s.Notify()
	}
}

// Remove takes an artifact out of the index. commit runs in the same
// transaction that deletes the entry and queues a deindex job, so the
// database never shows the artifact as indexed once commit is applied.
// The external removal is then attempted inline; when it fails the queued
// job retries it in the background and Remove still succeeds.
func (s *Synchronizer) Remove(ctx context.Context, ref artifact.Ref, reason, actor string, commit func(tx *gorm.DB) error) error {
	return s.RemoveAll(ctx, []artifact.Ref{ref}, reason, actor, commit)
}

// RemoveAll is Remove for several artifacts in one transaction.
func (s *Synchronizer) RemoveAll(ctx context.Context, refs []artifact.Ref, reason, actor string, commit func(tx *gorm.DB) error) error {
	ctx, span := tracer.Start(ctx, "index.Remove", trace.WithAttributes(
		attribute.Int("artifacts", len(refs)),
		attribute.String("reason", reason),
	))
	defer span.End()

	queued := make([]*jobs.DeindexJob, len(refs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if commit != nil {
			if err := commit(tx); err != nil {
				return err
			}
		}
		entries, jobStore := s.entries.WithTx(tx), s.jobs.WithTx(tx)
		for i, ref := range refs {
			if _, err := entries.Delete(ctx, ref); err != nil {
				return err
			}
			job, err := jobStore.Enqueue(ctx, newJob(ref, reason, actor))
			if err != nil {
				return err
			}
			queued[i] = job
		}
		return nil
	})
	if err != nil {
		return spanErr(span, err)
	}

	deferred := false
	bg := context.WithoutCancel(ctx)
	for i, ref := range refs {
		start := time.Now()
		if err := s.deindex(ctx, ref); err != nil {
			s.logger.Warn("index removal deferred to background job",
				"artifactID", ref.ID, "jobID", queued[i].ID, "error", err)
			span.AddEvent("deindex deferred", trace.WithAttributes(attribute.String("artifact.id", ref.ID)))
			deferred = true
			continue
		}
		if err := s.jobs.Complete(bg, queued[i].ID, time.Since(start)); err != nil {
			s.logger.Error("failed to complete inline deindex job", "jobID", queued[i].ID, "error", err)
		}
		if err := s.artifacts.SetPendingDeindex(bg, ref, false); err != nil {
			s.logger.Error("failed to clear pending deindex flag", "artifactID", ref.ID, "error", err)
		}
	}
	if deferred {
		s.Notify()
	}
	return nil
}

func newJob(ref artifact.Ref, reason, actor string) *jobs.DeindexJob {
	return &jobs.DeindexJob{
		ProjectID:      ref.ProjectID,
		ArtifactKind:   string(ref.Kind),
		ArtifactID:     ref.ID,
		Reason:         reason,
		RequestedBy:    actor,
		IdempotencyKey: jobs.DeindexKey(string(ref.Kind), ref.ID),
	}
}

// deindex removes the document from both external services. Both removals
// are attempted even if the first fails.
func (s *Synchronizer) deindex(ctx context.Context, ref artifact.Ref) error {
	start := time.Now()
	kerr := s.svc.Keyword.Remove(ctx, ref.ID)
	metrics.ObserveIndexOp("remove", backendName(s.svc.Keyword), kerr, time.Since(start))

	start = time.Now()
	verr := s.svc.Vector.Remove(ctx, ref.ID)
	metrics.ObserveIndexOp("remove", backendName(s.svc.Vector), verr, time.Since(start))

	switch {
	case kerr != nil && verr != nil:
		return errs.DependencyFailure("keyword-index,vector-index", errors.Join(kerr, verr)).WithID(string(ref.Kind), ref.ID)
	case kerr != nil:
		return errs.DependencyFailure("keyword-index", kerr).WithID(string(ref.Kind), ref.ID)
	case verr != nil:
		return errs.DependencyFailure("vector-index", verr).WithID(string(ref.Kind), ref.ID)
	}
	return nil
}

// HandleDeindex implements jobs.Handler. It skips the removal when the
// artifact has been published again since the job was queued.
func (s *Synchronizer) HandleDeindex(ctx context.Context, job *jobs.DeindexJob) error {
	ref := artifact.Ref{Kind: artifact.Kind(job.ArtifactKind), ProjectID: job.ProjectID, ID: job.ArtifactID}
	ctx, span := tracer.Start(ctx, "index.HandleDeindex", trace.WithAttributes(
		attribute.String("artifact.id", ref.ID),
		attribute.String("job.id", job.ID),
	))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, ref.ID)
	if err != nil {
		return spanErr(span, err)
	}
	defer unlock()

	e, err := s.entries.Get(ctx, ref)
	if err != nil {
		return spanErr(span, err)
	}
	if e != nil {
		s.logger.Info("artifact was republished, skipping deindex", "artifactID", ref.ID, "jobID", job.ID)
		return nil
	}
	if err := s.deindex(ctx, ref); err != nil {
		return spanErr(span, err)
	}
	return s.artifacts.SetPendingDeindex(ctx, ref, false)
}

// RebuildFailure describes one artifact that could not be reindexed.
type RebuildFailure struct {
	Ref   artifact.Ref `json:"ref"`
	Error string       `json:"error"`
}

// RebuildResult summarizes a project rebuild.
type RebuildResult struct {
	Indexed int              `json:"indexed"`
	Removed int              `json:"removed"`
	Failed  []RebuildFailure `json:"failed"`
}

// Rebuild reindexes every published artifact of a project and drops
// entries whose artifact is no longer published. With force set every
// artifact is embedded again even if its text is unchanged. Per-artifact
// failures are collected rather than aborting the run.
func (s *Synchronizer) Rebuild(ctx context.Context, projectID string, force bool) (*RebuildResult, error) {
	ctx, span := tracer.Start(ctx, "index.Rebuild", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Bool("force", force),
	))
	defer span.End()

	published, err := s.artifacts.ListRefsByStatus(ctx, projectID, lifecycle.StatusPublished)
	if err != nil {
		return nil, spanErr(span, err)
	}
	res := &RebuildResult{Failed: []RebuildFailure{}}
	keep := make(map[string]struct{}, len(published))

	for _, ref := range published {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		keep[ref.ID] = struct{}{}
		if err := s.reindexOne(ctx, ref, force); err != nil {
			s.logger.Warn("rebuild failed for artifact", "artifactID", ref.ID, "error", err)
			res.Failed = append(res.Failed, RebuildFailure{Ref: ref, Error: err.Error()})
			continue
		}
		res.Indexed++
	}

	indexed, err := s.entries.Refs(ctx, projectID)
	if err != nil {
		return res, spanErr(span, err)
	}
	for _, ref := range indexed {
		if _, ok := keep[ref.ID]; ok {
			continue
		}
		if err := s.removeStale(ctx, ref); err != nil {
			res.Failed = append(res.Failed, RebuildFailure{Ref: ref, Error: err.Error()})
			continue
		}
		res.Removed++
	}

	s.logger.Info("index rebuilt", "projectID", projectID,
		"indexed", res.Indexed, "removed", res.Removed, "failed", len(res.Failed))
	return res, nil
}

func (s *Synchronizer) removeStale(ctx context.Context, ref artifact.Ref) error {
	unlock, err := s.locker.Lock(ctx, ref.ID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.Remove(ctx, ref, jobs.ReasonArchive, "system", nil)
}

func (s *Synchronizer) reindexOne(ctx context.Context, ref artifact.Ref, force bool) error {
	unlock, err := s.locker.Lock(ctx, ref.ID)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.LoadDocument(ctx, ref)
	if err != nil {
		return err
	}
	e, prev, err := s.prepare(ctx, *doc, force)
	if err != nil {
		return err
	}
	if err := s.push(ctx, e); err != nil {
		s.restore(ctx, prev, ref)
		return err
	}
	return s.entries.Save(ctx, e)
}

// DeleteProjectData implements project.CascadeDeleter. It drops the
// project's entries and queues their external removal in the caller's
// transaction; call Notify after the transaction commits.
func (s *Synchronizer) DeleteProjectData(ctx context.Context, tx *gorm.DB, projectID string) error {
	refs, err := s.entries.WithTx(tx).Refs(ctx, projectID)
	if err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Where("project_id = ?", projectID).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	jobStore := s.jobs.WithTx(tx)
	for _, ref := range refs {
		if _, err := jobStore.Enqueue(ctx, newJob(ref, jobs.ReasonProjectDelete, "system")); err != nil {
			return err
		}
	}
	return nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
