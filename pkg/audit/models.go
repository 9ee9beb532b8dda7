// Package audit records mutating API requests in an append-only table and
// serves them back through a paginated API.
package audit

import (
	"time"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
)

// Outcomes recorded on an Event.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is the GORM model for one audited request.
type Event struct {
	ID            string             `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID     string             `gorm:"column:project_id;index:idx_audit_project_time,priority:1"`
	CorrelationID string             `gorm:"column:correlation_id;index"`
	RequestID     string             `gorm:"column:request_id;index"`
	Actor         string             `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	Role          string             `gorm:"column:role"`
	ResourceType  string             `gorm:"column:resource_type;index"`
	ResourceIDs   db.JSONStringSlice `gorm:"column:resource_ids;type:text"`
	Action        string             `gorm:"column:action"`
	Outcome       string             `gorm:"column:outcome;not null"`
	StatusCode    int                `gorm:"column:status_code"`
	Metadata      db.JSONAny         `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time          `gorm:"column:created_at;index:idx_audit_project_time,priority:2;index:idx_audit_actor_time,priority:2"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }

// ListFilter narrows an event listing. Empty fields match everything.
type ListFilter struct {
	ProjectID    string
	Actor        string
	ResourceType string
	Action       string
	Outcome      string
}
