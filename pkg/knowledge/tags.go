package knowledge

import (
	"context"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// AttachTag links a tag to an artifact. Attaching twice is a no-op. The
// tag names of a published artifact are part of its index metadata, so the
// entry is refreshed together with the link.
func (s *Service) AttachTag(ctx context.Context, ref artifact.Ref, tagID string) error {
	return s.retag(ctx, ref, tagID, true)
}

// DetachTag unlinks a tag from an artifact. Detaching a tag that is not
// attached is a no-op.
func (s *Service) DetachTag(ctx context.Context, ref artifact.Ref, tagID string) error {
	return s.retag(ctx, ref, tagID, false)
}

func (s *Service) retag(ctx context.Context, ref artifact.Ref, tagID string, attach bool) error {
	unlock, err := s.lock(ctx, ref.ID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.state(ctx, ref)
	if err != nil {
		return err
	}
	apply := func(store *artifact.Store) error {
		if attach {
			return store.AttachTag(ctx, ref, tagID)
		}
		return store.DetachTag(ctx, ref, tagID)
	}
	if !lifecycle.Indexed(st.status) {
		return apply(s.artifacts)
	}

	tag, err := s.artifacts.GetTag(ctx, ref.ProjectID, tagID)
	if err != nil {
		return err
	}
	if tag == nil {
		if attach {
			return errs.NotFound("tag", tagID)
		}
		return nil
	}
	doc, err := s.sync.LoadDocument(ctx, ref)
	if err != nil {
		return err
	}
	doc.Tags = withTag(doc.Tags, tag.Name, attach)
	_, err = s.sync.Upsert(ctx, *doc, func(tx *gorm.DB) error {
		return apply(s.artifacts.WithTx(tx))
	})
	return err
}

func withTag(names []string, name string, present bool) []string {
	out := make([]string, 0, len(names)+1)
	found := false
	for _, n := range names {
		if n == name {
			found = true
			if !present {
				continue
			}
		}
		out = append(out, n)
	}
	if present && !found {
		out = append(out, name)
	}
	return out
}

// UpdateTag changes a tag. A rename refreshes the index metadata of the
// published artifacts carrying the tag; refresh failures are logged and
// left for the next rebuild.
func (s *Service) UpdateTag(ctx context.Context, projectID, id, name, color, description string) (*artifact.Tag, error) {
	before, err := s.artifacts.GetTag(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, errs.NotFound("tag", id)
	}
	refs, err := s.taggedRefs(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	tag, err := s.artifacts.UpdateTag(ctx, projectID, id, name, color, description)
	if err != nil {
		return nil, err
	}
	if tag.Name != before.Name {
		s.refresh(ctx, refs)
	}
	return tag, nil
}

// DeleteTag removes a tag and its links, then refreshes the published
// artifacts that carried it.
func (s *Service) DeleteTag(ctx context.Context, projectID, id string) error {
	refs, err := s.taggedRefs(ctx, projectID, id)
	if err != nil {
		return err
	}
	if err := s.artifacts.DeleteTag(ctx, projectID, id); err != nil {
		return err
	}
	s.refresh(ctx, refs)
	return nil
}

func (s *Service) taggedRefs(ctx context.Context, projectID, tagID string) ([]artifact.Ref, error) {
	var refs []artifact.Ref
	for page := 1; ; page++ {
		f := artifact.ListFilter{ProjectID: projectID, TagID: tagID, Status: lifecycle.StatusPublished, Page: page, PageSize: artifact.MaxPageSize}
		prds, err := s.artifacts.ListPRDs(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, p := range prds.Items {
			refs = append(refs, artifact.Ref{Kind: artifact.KindPRD, ProjectID: projectID, ID: p.ID})
		}
		tcs, err := s.artifacts.ListTestCases(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, tc := range tcs.Items {
			refs = append(refs, artifact.Ref{Kind: artifact.KindTestCase, ProjectID: projectID, ID: tc.ID})
		}
		if len(prds.Items) < f.PageSize && len(tcs.Items) < f.PageSize {
			return refs, nil
		}
	}
}

func (s *Service) refresh(ctx context.Context, refs []artifact.Ref) {
	for _, ref := range refs {
		if err := s.refreshOne(ctx, ref); err != nil {
			s.logger.Warn("index metadata refresh failed", "artifactID", ref.ID, "error", err)
		}
	}
}

func (s *Service) refreshOne(ctx context.Context, ref artifact.Ref) error {
	unlock, err := s.lock(ctx, ref.ID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.state(ctx, ref)
	if err != nil || !lifecycle.Indexed(st.status) {
		return err
	}
	doc, err := s.sync.LoadDocument(ctx, ref)
	if err != nil {
		return err
	}
	_, err = s.sync.Upsert(ctx, *doc, nil)
	return err
}
