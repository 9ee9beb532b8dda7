// Package knowledge applies changes to PRDs and test cases while keeping
// the search index consistent with them. Every change to an artifact that
// is published goes through the index synchronizer so the artifact row and
// its index entry change together, under the artifact's transition lock.
package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/events"
	"github.com/Yinkun-Cheng/RAG/pkg/ha"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the lifecycle event publisher.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service coordinates the artifact store and the index synchronizer.
type Service struct {
	artifacts *artifact.Store
	sync      *index.Synchronizer
	machine   *lifecycle.Machine
	events    events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service.
func NewService(artifacts *artifact.Store, sync *index.Synchronizer, opts ...Option) *Service {
	s := &Service{
		artifacts: artifacts,
		sync:      sync,
		machine:   lifecycle.NewMachine(),
		events:    events.Noop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// lock takes the transition locks of ids in sorted order so concurrent
// batches cannot deadlock.
func (s *Service) lock(ctx context.Context, ids ...string) (ha.Unlock, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var held []ha.Unlock
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		unlock, err := s.sync.Locker().Lock(ctx, id)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}

// state reads the lifecycle fields of an artifact.
type state struct {
	status  lifecycle.Status
	pending bool
}

func (s *Service) state(ctx context.Context, ref artifact.Ref) (*state, error) {
	switch ref.Kind {
	case artifact.KindPRD:
		p, err := s.artifacts.GetPRD(ctx, ref.ProjectID, ref.ID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, errs.NotFound("prd", ref.ID)
		}
		return &state{status: p.Status, pending: p.PendingDeindex}, nil
	case artifact.KindTestCase:
		tc, err := s.artifacts.GetTestCase(ctx, ref.ProjectID, ref.ID)
		if err != nil {
			return nil, err
		}
		if tc == nil {
			return nil, errs.NotFound("testcase", ref.ID)
		}
		return &state{status: tc.Status, pending: tc.PendingDeindex}, nil
	}
	return nil, errs.InvalidArgument("unknown artifact type %q", ref.Kind)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish lifecycle event", "type", e.Type, "artifactID", e.ArtifactID, "error", err)
	}
}

func event(typ string, ref artifact.Ref, actor string) events.Event {
	return events.Event{
		Type:         typ,
		ProjectID:    ref.ProjectID,
		ArtifactKind: string(ref.Kind),
		ArtifactID:   ref.ID,
		Actor:        actor,
	}
}

// CreatePRD stores a new draft PRD. Drafts are never indexed.
func (s *Service) CreatePRD(ctx context.Context, p *artifact.PRD) error {
	return s.artifacts.CreatePRD(ctx, p)
}

// CreateTestCase stores a new draft test case.
func (s *Service) CreateTestCase(ctx context.Context, tc *artifact.TestCase) error {
	return s.artifacts.CreateTestCase(ctx, tc)
}

// Rebuild reindexes a project.
func (s *Service) Rebuild(ctx context.Context, projectID string, force bool, actor string) (*index.RebuildResult, error) {
	res, err := s.sync.Rebuild(ctx, projectID, force)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{
		Type:      events.TypeRebuilt,
		ProjectID: projectID,
		Actor:     actor,
		Data:      map[string]any{"indexed": res.Indexed, "removed": res.Removed, "failed": len(res.Failed)},
	})
	return res, nil
}

func (s *Service) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.artifacts.DB().WithContext(ctx).Transaction(fn)
}
