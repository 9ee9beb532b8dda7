package index

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
)

// MaxCandidates caps the number of entries a single search considers.
const MaxCandidates = 2000

// Store persists index entries.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// AutoMigrate creates or updates the index_entries table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("auto-migrate index_entries: %w", err)
	}
	return nil
}

// Get returns the entry of an artifact, or nil, nil if it is not indexed.
func (s *Store) Get(ctx context.Context, ref artifact.Ref) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("artifact_kind = ? AND artifact_id = ? AND project_id = ?", ref.Kind, ref.ID, ref.ProjectID).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get index entry: %w", err)
	}
	return &e, nil
}

// Save inserts or replaces an entry.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(e).Error; err != nil {
		return fmt.Errorf("save index entry: %w", err)
	}
	return nil
}

// Delete removes the entry of an artifact and reports whether one existed.
func (s *Store) Delete(ctx context.Context, ref artifact.Ref) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("artifact_kind = ? AND artifact_id = ?", ref.Kind, ref.ID).
		Delete(&Entry{})
	if result.Error != nil {
		return false, fmt.Errorf("delete index entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Candidates returns the entries in scope of filter, most recently updated
// first. The heavy text and embedding columns are not loaded.
func (s *Store) Candidates(ctx context.Context, f Filter) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Omit("text", "embedding").
		Where("project_id = ?", f.ProjectID)
	if len(f.Kinds) > 0 {
		q = q.Where("artifact_kind IN ?", f.Kinds)
	}
	if f.ModuleID != "" {
		q = q.Where("module_id = ?", f.ModuleID)
	}
	if f.AppVersionID != "" {
		q = q.Where("app_version_id = ?", f.AppVersionID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var entries []Entry
	if err := q.Order("artifact_updated_at DESC").Limit(MaxCandidates).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list index candidates: %w", err)
	}
	return entries, nil
}

// Refs lists the refs of every entry of a project.
func (s *Store) Refs(ctx context.Context, projectID string) ([]artifact.Ref, error) {
	var rows []struct {
		ArtifactKind artifact.Kind
		ArtifactID   string
	}
	if err := s.db.WithContext(ctx).Model(&Entry{}).Select("artifact_kind, artifact_id").
		Where("project_id = ?", projectID).Order("artifact_id").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list index refs: %w", err)
	}
	refs := make([]artifact.Ref, len(rows))
	for i, r := range rows {
		refs[i] = artifact.Ref{Kind: r.ArtifactKind, ProjectID: projectID, ID: r.ArtifactID}
	}
	return refs, nil
}

// Count returns the number of entries of a project.
func (s *Store) Count(ctx context.Context, projectID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Where("project_id = ?", projectID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count index entries: %w", err)
	}
	return n, nil
}
