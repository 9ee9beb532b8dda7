// Package artifact stores the versioned PRDs and test cases of a project,
// their tags and their version history.
package artifact

import (
	"time"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// Kind distinguishes the two artifact types.
type Kind string

const (
	KindPRD      Kind = "prd"
	KindTestCase Kind = "testcase"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool { return k == KindPRD || k == KindTestCase }

// Ref identifies one artifact.
type Ref struct {
	Kind      Kind   `json:"type"`
	ProjectID string `json:"project_id"`
	ID        string `json:"id"`
}

func (r Ref) String() string { return string(r.Kind) + "/" + r.ID }

// Test case priorities and types.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	TypeFunctional    = "functional"
	TypePerformance   = "performance"
	TypeSecurity      = "security"
	TypeUI            = "ui"
	TypeCompatibility = "compatibility"
)

// ValidPriority reports whether p is a known test case priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ValidType reports whether t is a known test case type.
func ValidType(t string) bool {
	switch t {
	case TypeFunctional, TypePerformance, TypeSecurity, TypeUI, TypeCompatibility:
		return true
	}
	return false
}

// PRD is a versioned requirement document.
type PRD struct {
	ID             string           `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID      string           `gorm:"column:project_id;type:varchar(36);uniqueIndex:idx_prd_project_code,priority:1;index:idx_prd_project_version,priority:1;not null" json:"project_id"`
	Code           string           `gorm:"column:code;uniqueIndex:idx_prd_project_code,priority:2;not null" json:"code"`
	Title          string           `gorm:"column:title;not null" json:"title"`
	Content        string           `gorm:"column:content;type:text" json:"content"`
	ModuleID       *string          `gorm:"column:module_id;type:varchar(36);index" json:"module_id"`
	AppVersionID   *string          `gorm:"column:app_version_id;type:varchar(36);index:idx_prd_project_version,priority:2" json:"app_version_id"`
	Author         string           `gorm:"column:author" json:"author"`
	Version        int              `gorm:"column:version;not null;default:1" json:"version"`
	Status         lifecycle.Status `gorm:"column:status;type:varchar(16);index;not null;default:draft" json:"status"`
	PendingDeindex bool             `gorm:"column:pending_deindex;not null;default:false" json:"pending_deindex"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Tags []Tag `gorm:"-" json:"tags"`
}

// TableName returns the GORM table name.
func (PRD) TableName() string { return "prds" }

// TestCase is a versioned test artifact with ordered steps.
type TestCase struct {
	ID             string           `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID      string           `gorm:"column:project_id;type:varchar(36);uniqueIndex:idx_tc_project_code,priority:1;not null" json:"project_id"`
	Code           string           `gorm:"column:code;uniqueIndex:idx_tc_project_code,priority:2;not null" json:"code"`
	Title          string           `gorm:"column:title;not null" json:"title"`
	PRDID          *string          `gorm:"column:prd_id;type:varchar(36);index" json:"prd_id"`
	ModuleID       *string          `gorm:"column:module_id;type:varchar(36);index" json:"module_id"`
	AppVersionID   *string          `gorm:"column:app_version_id;type:varchar(36);index" json:"app_version_id"`
	Precondition   string           `gorm:"column:precondition;type:text" json:"precondition"`
	ExpectedResult string           `gorm:"column:expected_result;type:text" json:"expected_result"`
	Priority       string           `gorm:"column:priority;type:varchar(16);not null;default:medium" json:"priority"`
	Type           string           `gorm:"column:type;type:varchar(32);not null;default:functional" json:"type"`
	Author         string           `gorm:"column:author" json:"author"`
	Version        int              `gorm:"column:version;not null;default:1" json:"version"`
	Status         lifecycle.Status `gorm:"column:status;type:varchar(16);index;not null;default:draft" json:"status"`
	PendingDeindex bool             `gorm:"column:pending_deindex;not null;default:false" json:"pending_deindex"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Steps []TestStep `gorm:"-" json:"steps"`
	Tags  []Tag      `gorm:"-" json:"tags"`
}

// TableName returns the GORM table name.
func (TestCase) TableName() string { return "test_cases" }

// TestStep is one ordered step of a test case. StepOrder is contiguous
// starting at 1.
type TestStep struct {
	ID          string             `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TestCaseID  string             `gorm:"column:test_case_id;type:varchar(36);index:idx_step_case_order,priority:1;not null" json:"test_case_id"`
	StepOrder   int                `gorm:"column:step_order;index:idx_step_case_order,priority:2;not null" json:"order"`
	Description string             `gorm:"column:description;type:text" json:"description"`
	TestData    string             `gorm:"column:test_data;type:text" json:"test_data"`
	Expected    string             `gorm:"column:expected;type:text" json:"expected"`
	Screenshots db.JSONStringSlice `gorm:"column:screenshots;type:text" json:"screenshots"`
}

// TableName returns the GORM table name.
func (TestStep) TableName() string { return "test_steps" }

// PRDVersion is an immutable snapshot of a PRD's content at a version.
type PRDVersion struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	PRDID     string    `gorm:"column:prd_id;type:varchar(36);uniqueIndex:idx_prdver_prd_version,priority:1;not null" json:"prd_id"`
	Version   int       `gorm:"column:version;uniqueIndex:idx_prdver_prd_version,priority:2;not null" json:"version"`
	Title     string    `gorm:"column:title;not null" json:"title"`
	Content   string    `gorm:"column:content;type:text" json:"content"`
	ChangeLog string    `gorm:"column:change_log;type:text" json:"change_log"`
	CreatedBy string    `gorm:"column:created_by" json:"created_by"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	// Current marks the entry synthesized from the live row.
	Current bool `gorm:"-" json:"current"`
}

// TableName returns the GORM table name.
func (PRDVersion) TableName() string { return "prd_versions" }

// TestCaseVersion is an immutable snapshot of a test case at a version.
type TestCaseVersion struct {
	ID             string       `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TestCaseID     string       `gorm:"column:test_case_id;type:varchar(36);uniqueIndex:idx_tcver_tc_version,priority:1;not null" json:"test_case_id"`
	Version        int          `gorm:"column:version;uniqueIndex:idx_tcver_tc_version,priority:2;not null" json:"version"`
	Title          string       `gorm:"column:title;not null" json:"title"`
	Precondition   string       `gorm:"column:precondition;type:text" json:"precondition"`
	ExpectedResult string       `gorm:"column:expected_result;type:text" json:"expected_result"`
	Priority       string       `gorm:"column:priority" json:"priority"`
	Type           string       `gorm:"column:type" json:"type"`
	Steps          db.JSONSteps `gorm:"column:steps;type:text" json:"steps"`
	ChangeLog      string       `gorm:"column:change_log;type:text" json:"change_log"`
	CreatedBy      string       `gorm:"column:created_by" json:"created_by"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Current bool `gorm:"-" json:"current"`
}

// TableName returns the GORM table name.
func (TestCaseVersion) TableName() string { return "test_case_versions" }

// Tag is a project-scoped label.
type Tag struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID   string    `gorm:"column:project_id;type:varchar(36);uniqueIndex:idx_tag_project_name,priority:1;not null" json:"project_id"`
	Name        string    `gorm:"column:name;uniqueIndex:idx_tag_project_name,priority:2;not null" json:"name"`
	Color       string    `gorm:"column:color" json:"color"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName returns the GORM table name.
func (Tag) TableName() string { return "tags" }

// TagUsage is a tag with its derived usage count.
type TagUsage struct {
	Tag
	UsageCount int64 `json:"usage_count"`
}

// ArtifactTag joins a tag to a PRD or test case.
type ArtifactTag struct {
	ArtifactKind Kind      `gorm:"primaryKey;column:artifact_kind;type:varchar(16)"`
	ArtifactID   string    `gorm:"primaryKey;column:artifact_id;type:varchar(36)"`
	TagID        string    `gorm:"primaryKey;column:tag_id;type:varchar(36);index"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ArtifactTag) TableName() string { return "artifact_tags" }
