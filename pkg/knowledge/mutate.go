package knowledge

import (
	"context"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/events"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// UpdatePRD applies u. A published PRD is re-embedded and reindexed with
// the new content before the update commits; if indexing fails the PRD is
// left unchanged.
func (s *Service) UpdatePRD(ctx context.Context, projectID, id string, u artifact.PRDUpdate) (*artifact.PRD, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.artifacts.GetPRD(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, errs.NotFound("prd", id)
	}
	if !lifecycle.Indexed(cur.Status) {
		return s.artifacts.UpdatePRD(ctx, projectID, id, u)
	}

	next := u.Preview(*cur)
	next.UpdatedAt = s.now()
	var out *artifact.PRD
	_, err = s.sync.Upsert(ctx, index.DocumentFromPRD(&next), func(tx *gorm.DB) error {
		var err error
		out, err = s.artifacts.WithTx(tx).UpdatePRD(ctx, projectID, id, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(events.TypeReindexed, artifact.Ref{Kind: artifact.KindPRD, ProjectID: projectID, ID: id}, u.UpdatedBy))
	return out, nil
}

// UpdateTestCase applies u with the same index guarantees as UpdatePRD.
func (s *Service) UpdateTestCase(ctx context.Context, projectID, id string, u artifact.TestCaseUpdate) (*artifact.TestCase, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.artifacts.GetTestCase(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, errs.NotFound("testcase", id)
	}
	if !lifecycle.Indexed(cur.Status) {
		return s.artifacts.UpdateTestCase(ctx, projectID, id, u)
	}

	next := u.Preview(*cur)
	next.UpdatedAt = s.now()
	return s.reindexTestCase(ctx, &next, u.UpdatedBy, func(st *artifact.Store) (*artifact.TestCase, error) {
		return st.UpdateTestCase(ctx, projectID, id, u)
	})
}

// RemoveStep deletes one step of a test case and renumbers the rest.
func (s *Service) RemoveStep(ctx context.Context, projectID, id string, order int, actor string) (*artifact.TestCase, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.artifacts.GetTestCase(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, errs.NotFound("testcase", id)
	}
	if !lifecycle.Indexed(cur.Status) {
		return s.artifacts.RemoveStep(ctx, projectID, id, order)
	}

	next := *cur
	next.Steps = artifact.WithoutStep(*cur, order)
	next.UpdatedAt = s.now()
	return s.reindexTestCase(ctx, &next, actor, func(st *artifact.Store) (*artifact.TestCase, error) {
		return st.RemoveStep(ctx, projectID, id, order)
	})
}

func (s *Service) reindexTestCase(ctx context.Context, next *artifact.TestCase, actor string, apply func(*artifact.Store) (*artifact.TestCase, error)) (*artifact.TestCase, error) {
	var out *artifact.TestCase
	_, err := s.sync.Upsert(ctx, index.DocumentFromTestCase(next), func(tx *gorm.DB) error {
		var err error
		out, err = apply(s.artifacts.WithTx(tx))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(events.TypeReindexed, artifact.Ref{Kind: artifact.KindTestCase, ProjectID: next.ProjectID, ID: next.ID}, actor))
	return out, nil
}

// Delete removes an artifact. When the artifact is or may still be indexed
// its index entry is dropped in the same transaction as the row, and the
// external removal follows the archive path.
func (s *Service) Delete(ctx context.Context, ref artifact.Ref, actor string) error {
	unlock, err := s.lock(ctx, ref.ID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.state(ctx, ref)
	if err != nil {
		return err
	}
	commit := func(tx *gorm.DB) error {
		return deleteIn(ctx, s.artifacts.WithTx(tx), ref)
	}
	if lifecycle.Indexed(st.status) || st.pending {
		err = s.sync.Remove(ctx, ref, jobs.ReasonDelete, actor, commit)
	} else {
		err = s.tx(ctx, commit)
	}
	if err != nil {
		return err
	}
	s.publish(ctx, event(events.TypeDeleted, ref, actor))
	return nil
}

// BatchDelete removes several artifacts of one kind. Either all of them
// are deleted or none is; an unknown id fails the whole batch with
// NotFound.
func (s *Service) BatchDelete(ctx context.Context, projectID string, kind artifact.Kind, ids []string, actor string) (int, error) {
	if !kind.Valid() {
		return 0, errs.InvalidArgument("unknown artifact type %q", kind)
	}
	if len(ids) == 0 {
		return 0, errs.InvalidArgument("ids are required")
	}
	unlock, err := s.lock(ctx, ids...)
	if err != nil {
		return 0, err
	}
	defer unlock()

	seen := make(map[string]struct{}, len(ids))
	var refs, indexed []artifact.Ref
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ref := artifact.Ref{Kind: kind, ProjectID: projectID, ID: id}
		st, err := s.state(ctx, ref)
		if err != nil {
			return 0, err
		}
		refs = append(refs, ref)
		if lifecycle.Indexed(st.status) || st.pending {
			indexed = append(indexed, ref)
		}
	}

	commit := func(tx *gorm.DB) error {
		store := s.artifacts.WithTx(tx)
		for _, ref := range refs {
			if err := deleteIn(ctx, store, ref); err != nil {
				return err
			}
		}
		return nil
	}
	if len(indexed) > 0 {
		err = s.sync.RemoveAll(ctx, indexed, jobs.ReasonDelete, actor, commit)
	} else {
		err = s.tx(ctx, commit)
	}
	if err != nil {
		return 0, err
	}
	for _, ref := range refs {
		s.publish(ctx, event(events.TypeDeleted, ref, actor))
	}
	s.logger.Info("batch delete completed", "projectID", projectID, "kind", kind, "count", len(refs), "actor", actor)
	return len(refs), nil
}

func deleteIn(ctx context.Context, store *artifact.Store, ref artifact.Ref) error {
	if ref.Kind == artifact.KindTestCase {
		return store.DeleteTestCase(ctx, ref.ProjectID, ref.ID)
	}
	return store.DeletePRD(ctx, ref.ProjectID, ref.ID)
}
