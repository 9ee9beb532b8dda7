package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store provides append-only operations for audit events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("auto-migrate audit events: %w", err)
	}
	return nil
}

// Append creates a new immutable audit event.
func (s *Store) Append(ctx context.Context, e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Get returns the event with the given id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	var e Event
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &e, nil
}

// List returns events matching filter ordered newest first. Page tokens are
// keyset cursors, so events sharing a timestamp are never skipped.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]Event, string, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	base := s.filtered(ctx, filter)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	cursor, err := db.ParseCursor(pageToken)
	if err != nil {
		return nil, "", 0, err
	}
	var records []Event
	if err := cursor.After(base, "created_at").Limit(pageSize + 1).Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var next string
	if len(records) > pageSize {
		last := records[pageSize-1]
		next = db.Cursor{At: last.CreatedAt, ID: last.ID}.Token()
		records = records[:pageSize]
	}
	return records, next, int(total), nil
}

func (s *Store) filtered(ctx context.Context, f ListFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Event{})
	for column, v := range map[string]string{
		"project_id":    f.ProjectID,
		"actor":         f.Actor,
		"resource_type": f.ResourceType,
		"action":        f.Action,
		"outcome":       f.Outcome,
	} {
		if v != "" {
			q = q.Where(column+" = ?", v)
		}
	}
	return q
}

// DeleteOlderThan deletes events created before cutoff and returns how
// many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
