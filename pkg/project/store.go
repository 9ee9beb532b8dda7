package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// ReferenceCounter reports how many artifacts reference an app version.
type ReferenceCounter interface {
	CountAppVersionReferences(ctx context.Context, projectID, appVersionID string) (int64, error)
}

// CascadeDeleter removes the rows a component owns for a project. It runs
// inside the project delete transaction.
type CascadeDeleter interface {
	DeleteProjectData(ctx context.Context, tx *gorm.DB, projectID string) error
}

// Option configures a Store.
type Option func(*Store)

// WithReferenceCounter guards app version deletion.
func WithReferenceCounter(rc ReferenceCounter) Option {
	return func(s *Store) { s.refs = rc }
}

// WithCascade registers components whose data is removed with a project.
// They run in registration order.
func WithCascade(c ...CascadeDeleter) Option {
	return func(s *Store) { s.cascade = append(s.cascade, c...) }
}

// Store provides CRUD operations for projects and app versions.
type Store struct {
	db      *gorm.DB
	refs    ReferenceCounter
	cascade []CascadeDeleter
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AutoMigrate creates or updates the project tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Project{}); err != nil {
		return fmt.Errorf("auto-migrate projects: %w", err)
	}
	if err := s.db.AutoMigrate(&AppVersion{}); err != nil {
		return fmt.Errorf("auto-migrate app_versions: %w", err)
	}
	return nil
}

// CreateProject inserts a project, assigning an id when empty.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errs.InvalidArgument("project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id. Returns nil, nil if none exists.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ListProjects returns paginated projects ordered by id.
// pageToken is the id of the last project of the previous page.
func (s *Store) ListProjects(ctx context.Context, pageSize int, pageToken string) ([]Project, string, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := s.db.WithContext(ctx).Order("id ASC").Limit(pageSize + 1)
	if pageToken != "" {
		query = query.Where("id > ?", pageToken)
	}

	var records []Project
	if err := query.Find(&records).Error; err != nil {
		return nil, "", fmt.Errorf("list projects: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].ID
		records = records[:pageSize]
	}
	return records, nextToken, nil
}

// UpdateProject changes the mutable name and description of a project.
func (s *Store) UpdateProject(ctx context.Context, id, name, description string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.InvalidArgument("project name is required")
	}
	result := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).
		Updates(map[string]any{"name": name, "description": description})
	if result.Error != nil {
		return nil, fmt.Errorf("update project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errs.NotFound("project", id)
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes a project and, in the same transaction, everything
// it owns.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Project{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if count == 0 {
			return errs.NotFound("project", id)
		}
		for _, c := range s.cascade {
			if err := c.DeleteProjectData(ctx, tx, id); err != nil {
				return err
			}
		}
		if err := tx.Where("project_id = ?", id).Delete(&AppVersion{}).Error; err != nil {
			return fmt.Errorf("delete app versions: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&Project{}).Error; err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
}

// CreateAppVersion inserts an app version. The version name is unique
// within the project.
func (s *Store) CreateAppVersion(ctx context.Context, v *AppVersion) error {
	v.Version = strings.TrimSpace(v.Version)
	if v.Version == "" {
		return errs.InvalidArgument("version name is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProject(tx, v.ProjectID); err != nil {
			return err
		}
		var dup int64
		if err := tx.Model(&AppVersion{}).
			Where("project_id = ? AND version = ?", v.ProjectID, v.Version).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("check app version uniqueness: %w", err)
		}
		if dup > 0 {
			return errs.Conflict("app_version", v.Version, "app version %q already exists", v.Version)
		}
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		if err := tx.Create(v).Error; err != nil {
			return fmt.Errorf("create app version: %w", err)
		}
		return nil
	})
}

// GetAppVersion retrieves an app version within a project.
// Returns nil, nil if none exists.
func (s *Store) GetAppVersion(ctx context.Context, projectID, id string) (*AppVersion, error) {
	var v AppVersion
	err := s.db.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get app version: %w", err)
	}
	return &v, nil
}

// ListAppVersions returns a project's app versions, newest first.
func (s *Store) ListAppVersions(ctx context.Context, projectID string) ([]AppVersion, error) {
	var versions []AppVersion
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("created_at DESC").Order("version DESC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list app versions: %w", err)
	}
	return versions, nil
}

// UpdateAppVersion renames or re-describes an app version.
func (s *Store) UpdateAppVersion(ctx context.Context, projectID, id, version, description string) (*AppVersion, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, errs.InvalidArgument("version name is required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dup int64
		if err := tx.Model(&AppVersion{}).
			Where("project_id = ? AND version = ? AND id <> ?", projectID, version, id).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("check app version uniqueness: %w", err)
		}
		if dup > 0 {
			return errs.Conflict("app_version", version, "app version %q already exists", version)
		}
		result := tx.Model(&AppVersion{}).Where("project_id = ? AND id = ?", projectID, id).
			Updates(map[string]any{"version": version, "description": description})
		if result.Error != nil {
			return fmt.Errorf("update app version: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("app_version", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAppVersion(ctx, projectID, id)
}

// DeleteAppVersion removes an app version. It is rejected with Conflict
// while any PRD references it.
func (s *Store) DeleteAppVersion(ctx context.Context, projectID, id string) error {
	existing, err := s.GetAppVersion(ctx, projectID, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return errs.NotFound("app_version", id)
	}
	if s.refs != nil {
		n, err := s.refs.CountAppVersionReferences(ctx, projectID, id)
		if err != nil {
			return fmt.Errorf("count app version references: %w", err)
		}
		if n > 0 {
			return errs.Conflict("app_version", id, "app version is referenced by %d artifacts", n)
		}
	}
	if err := s.db.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, id).
		Delete(&AppVersion{}).Error; err != nil {
		return fmt.Errorf("delete app version: %w", err)
	}
	return nil
}

// CountAppVersions returns the number of app versions in a project.
func (s *Store) CountAppVersions(ctx context.Context, projectID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&AppVersion{}).Where("project_id = ?", projectID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count app versions: %w", err)
	}
	return n, nil
}

func requireProject(tx *gorm.DB, projectID string) error {
	var n int64
	if err := tx.Model(&Project{}).Where("id = ?", projectID).Count(&n).Error; err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if n == 0 {
		return errs.NotFound("project", projectID)
	}
	return nil
}
