// Package moduletree stores the module hierarchy used to classify and scope
// PRDs and test cases. Modules are persisted as a flat table of parent-id
// references; the tree is materialized on read.
package moduletree

import "time"

// Module is the GORM model for a node in a project's module tree.
type Module struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID   string    `gorm:"column:project_id;type:varchar(36);index:idx_module_project_parent,priority:1;not null" json:"project_id"`
	ParentID    *string   `gorm:"column:parent_id;type:varchar(36);index:idx_module_project_parent,priority:2" json:"parent_id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	SortOrder   int       `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName returns the GORM table name.
func (Module) TableName() string { return "modules" }

// SortItem assigns a sort order to one module in a reorder batch.
type SortItem struct {
	ID        string `json:"id" validate:"required"`
	SortOrder int    `json:"sort_order" validate:"gte=0"`
}
