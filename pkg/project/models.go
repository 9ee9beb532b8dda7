// Package project stores projects, the isolation boundary that owns every
// other entity, and the app versions that scope PRDs inside a project.
package project

import "time"

// Project is the GORM model for a project.
type Project struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName returns the GORM table name.
func (Project) TableName() string { return "projects" }

// AppVersion is a named checkpoint (for example "v1.1.0") scoping PRDs.
type AppVersion struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID   string    `gorm:"column:project_id;type:varchar(36);uniqueIndex:idx_appver_project_version,priority:1;not null" json:"project_id"`
	Version     string    `gorm:"column:version;uniqueIndex:idx_appver_project_version,priority:2;not null" json:"version"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName returns the GORM table name.
func (AppVersion) TableName() string { return "app_versions" }
