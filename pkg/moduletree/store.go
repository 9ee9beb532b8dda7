package moduletree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// ReferenceCounter reports how many PRDs and test cases reference a module.
// The count runs on tx so it shares the caller's transaction.
type ReferenceCounter interface {
	CountModuleReferences(ctx context.Context, tx *gorm.DB, projectID, moduleID string) (int64, error)
}

// Store provides operations on the module tree.
type Store struct {
	db   *gorm.DB
	refs ReferenceCounter
}

// NewStore creates a new Store. refs may be nil, in which case deletion is
// only guarded by the children check.
func NewStore(db *gorm.DB, refs ReferenceCounter) *Store {
	return &Store{db: db, refs: refs}
}

// AutoMigrate creates or updates the modules table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Module{}); err != nil {
		return fmt.Errorf("auto-migrate modules: %w", err)
	}
	return nil
}

// Create inserts a module under parentID (nil for a root). When SortOrder is
// zero the module is appended after its existing siblings.
func (s *Store) Create(ctx context.Context, m *Module) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return errs.InvalidArgument("module name is required")
	}
	if m.ParentID != nil && *m.ParentID == "" {
		m.ParentID = nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.ParentID != nil {
			var parent Module
			err := tx.Where("id = ?", *m.ParentID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("module", *m.ParentID).WithOp("create module")
			}
			if err != nil {
				return fmt.Errorf("load parent module: %w", err)
			}
			if parent.ProjectID != m.ProjectID {
				return errs.InvalidArgument("invalid relation: parent module %s belongs to another project", parent.ID)
			}
		}

		if m.SortOrder == 0 {
			var maxOrder sql.NullInt64
			q := tx.Model(&Module{}).Where("project_id = ?", m.ProjectID)
			if m.ParentID == nil {
				q = q.Where("parent_id IS NULL")
			} else {
				q = q.Where("parent_id = ?", *m.ParentID)
			}
			if err := q.Select("MAX(sort_order)").Row().Scan(&maxOrder); err != nil {
				return fmt.Errorf("find sibling sort order: %w", err)
			}
			if maxOrder.Valid {
				m.SortOrder = int(maxOrder.Int64) + 1
			}
		}

		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("create module: %w", err)
		}
		return nil
	})
}

// Get retrieves a module within a project. Returns nil, nil if none exists.
func (s *Store) Get(ctx context.Context, projectID, id string) (*Module, error) {
	var m Module
	err := s.db.WithContext(ctx).Where("project_id = ? AND id = ?", projectID, id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get module: %w", err)
	}
	return &m, nil
}

// Exists reports whether a module exists within a project.
func (s *Store) Exists(ctx context.Context, projectID, id string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Module{}).
		Where("project_id = ? AND id = ?", projectID, id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check module: %w", err)
	}
	return n > 0, nil
}

// Update changes a module's name and description.
func (s *Store) Update(ctx context.Context, projectID, id, name, description string) (*Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.InvalidArgument("module name is required")
	}
	result := s.db.WithContext(ctx).Model(&Module{}).
		Where("project_id = ? AND id = ?", projectID, id).
		Updates(map[string]any{"name": name, "description": description})
	if result.Error != nil {
		return nil, fmt.Errorf("update module: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errs.NotFound("module", id)
	}
	return s.Get(ctx, projectID, id)
}

// Delete removes a module. It fails with Conflict while the module has
// children or is referenced by any PRD or test case; nothing cascades.
func (s *Store) Delete(ctx context.Context, projectID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m Module
		err := tx.Where("project_id = ? AND id = ?", projectID, id).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.NotFound("module", id)
		}
		if err != nil {
			return fmt.Errorf("get module: %w", err)
		}

		var children int64
		if err := tx.Model(&Module{}).Where("parent_id = ?", id).Count(&children).Error; err != nil {
			return fmt.Errorf("count child modules: %w", err)
		}
		if children > 0 {
			return errs.Conflict("module", id, "module has %d child modules", children)
		}

		if s.refs != nil {
			n, err := s.refs.CountModuleReferences(ctx, tx, projectID, id)
			if err != nil {
				return fmt.Errorf("count module references: %w", err)
			}
			if n > 0 {
				return errs.Conflict("module", id, "module is referenced by %d artifacts", n)
			}
		}

		if err := tx.Delete(&m).Error; err != nil {
			return fmt.Errorf("delete module: %w", err)
		}
		return nil
	})
}

// Reorder applies all sort orders in one transaction. Any unknown id aborts
// the whole batch with Conflict and leaves state unchanged.
func (s *Store) Reorder(ctx context.Context, projectID string, items []SortItem) error {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return errs.InvalidArgument("module %s appears more than once in reorder batch", it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			result := tx.Model(&Module{}).
				Where("project_id = ? AND id = ?", projectID, it.ID).
				Update("sort_order", it.SortOrder)
			if result.Error != nil {
				return fmt.Errorf("reorder module %s: %w", it.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				return errs.Conflict("module", it.ID, "unknown module in reorder batch")
			}
		}
		return nil
	})
}

// List returns the flat module list of a project.
func (s *Store) List(ctx context.Context, projectID string) ([]Module, error) {
	var modules []Module
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("sort_order ASC").Order("created_at ASC").Find(&modules).Error; err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return modules, nil
}

// Tree loads a project's modules and materializes the forest.
func (s *Store) Tree(ctx context.Context, projectID string) (*Tree, error) {
	modules, err := s.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildTree(modules), nil
}

// DeleteProjectData removes all modules of a project as part of a project
// cascade delete.
func (s *Store) DeleteProjectData(_ context.Context, tx *gorm.DB, projectID string) error {
	if err := tx.Where("project_id = ?", projectID).Delete(&Module{}).Error; err != nil {
		return fmt.Errorf("delete modules: %w", err)
	}
	return nil
}
