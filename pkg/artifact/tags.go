package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// CreateTag inserts a tag. Names are unique within a project.
func (s *Store) CreateTag(ctx context.Context, t *Tag) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errs.InvalidArgument("tag name is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tagNameFree(tx, t.ProjectID, t.Name, ""); err != nil {
			return err
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("create tag: %w", err)
		}
		return nil
	})
}

func tagNameFree(tx *gorm.DB, projectID, name, exceptID string) error {
	q := tx.Model(&Tag{}).Where("project_id = ? AND name = ?", projectID, name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("check tag name: %w", err)
	}
	if n > 0 {
		return errs.Conflict("tag", name, "tag %q already exists in project", name)
	}
	return nil
}

// GetTag retrieves a tag. Returns nil, nil if none exists.
func (s *Store) GetTag(ctx context.Context, projectID, id string) (*Tag, error) {
	t, err := first[Tag](s.db.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, id))
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

// UpdateTag changes a tag's name, color and description.
func (s *Store) UpdateTag(ctx context.Context, projectID, id, name, color, description string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.InvalidArgument("tag name is required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tagNameFree(tx, projectID, name, id); err != nil {
			return err
		}
		result := tx.Model(&Tag{}).Where("project_id = ? AND id = ?", projectID, id).
			Updates(map[string]any{"name": name, "color": color, "description": description})
		if result.Error != nil {
			return fmt.Errorf("update tag: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("tag", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTag(ctx, projectID, id)
}

// DeleteTag removes a tag and detaches it from every artifact.
func (s *Store) DeleteTag(ctx context.Context, projectID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("project_id = ? AND id = ?", projectID, id).Delete(&Tag{})
		if result.Error != nil {
			return fmt.Errorf("delete tag: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("tag", id)
		}
		if err := tx.Where("tag_id = ?", id).Delete(&ArtifactTag{}).Error; err != nil {
			return fmt.Errorf("detach tag: %w", err)
		}
		return nil
	})
}

// ListTags returns the tags of a project ordered by name, each with its
// usage count.
func (s *Store) ListTags(ctx context.Context, projectID string) ([]TagUsage, error) {
	var tags []Tag
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	out := make([]TagUsage, len(tags))
	if len(tags) == 0 {
		return out, nil
	}
	ids := make([]string, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	var counts []struct {
		TagID string
		N     int64
	}
	if err := s.db.WithContext(ctx).Model(&ArtifactTag{}).Select("tag_id, COUNT(*) AS n").
		Where("tag_id IN ?", ids).Group("tag_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count tag usage: %w", err)
	}
	usage := make(map[string]int64, len(counts))
	for _, c := range counts {
		usage[c.TagID] = c.N
	}
	for i, t := range tags {
		out[i] = TagUsage{Tag: t, UsageCount: usage[t.ID]}
	}
	return out, nil
}

// AttachTag links a tag to an artifact. Attaching an already attached tag
// succeeds without change.
func (s *Store) AttachTag(ctx context.Context, ref Ref, tagID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.WithTx(tx).requireTagTarget(ctx, ref, tagID); err != nil {
			return err
		}
		link := &ArtifactTag{ArtifactKind: ref.Kind, ArtifactID: ref.ID, TagID: tagID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error; err != nil {
			return fmt.Errorf("attach tag: %w", err)
		}
		return nil
	})
}

// DetachTag unlinks a tag from an artifact. Detaching a tag that is not
// attached succeeds without change.
func (s *Store) DetachTag(ctx context.Context, ref Ref, tagID string) error {
	ok, err := s.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(string(ref.Kind), ref.ID)
	}
	if err := s.db.WithContext(ctx).
		Where("artifact_kind = ? AND artifact_id = ? AND tag_id = ?", ref.Kind, ref.ID, tagID).
		Delete(&ArtifactTag{}).Error; err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	return nil
}

// ArtifactTags returns the tags attached to an artifact.
func (s *Store) ArtifactTags(ctx context.Context, ref Ref) ([]Tag, error) {
	tags, err := s.tagsFor(ctx, ref.Kind, []string{ref.ID})
	if err != nil {
		return nil, err
	}
	if tags[ref.ID] == nil {
		return []Tag{}, nil
	}
	return tags[ref.ID], nil
}

func (s *Store) requireTagTarget(ctx context.Context, ref Ref, tagID string) error {
	ok, err := s.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound(string(ref.Kind), ref.ID)
	}
	t, err := s.GetTag(ctx, ref.ProjectID, tagID)
	if err != nil {
		return err
	}
	if t == nil {
		return errs.NotFound("tag", tagID)
	}
	return nil
}

// tagsFor loads the tags attached to each artifact id, ordered by name.
func (s *Store) tagsFor(ctx context.Context, kind Kind, ids []string) (map[string][]Tag, error) {
	out := make(map[string][]Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var links []ArtifactTag
	if err := s.db.WithContext(ctx).Where("artifact_kind = ? AND artifact_id IN ?", kind, ids).
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("load tag links: %w", err)
	}
	if len(links) == 0 {
		return out, nil
	}
	tagIDs := make([]string, 0, len(links))
	for _, l := range links {
		tagIDs = append(tagIDs, l.TagID)
	}
	var tags []Tag
	if err := s.db.WithContext(ctx).Where("id IN ?", tagIDs).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	for _, t := range tags {
		for _, l := range links {
			if l.TagID == t.ID {
				out[l.ArtifactID] = append(out[l.ArtifactID], t)
			}
		}
	}
	return out, nil
}

// TagNames returns the names of the given tags.
func TagNames(tags []Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}
