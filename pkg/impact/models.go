// Package impact compares the PRDs of two app versions and recommends what
// to do with the test cases they affect. Analysis is read-only.
package impact

import (
	"time"

	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
)

// Level is the impact level of a PRD change or a whole report.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Request selects the versions to compare.
type Request struct {
	ProjectID        string `json:"-"`
	BaseVersionID    string `json:"baseVersionId" validate:"required"`
	CompareVersionID string `json:"compareVersionId" validate:"required"`
	ModuleID         string `json:"moduleId,omitempty"`
}

// AffectedTestCase is one recommended action. TestCaseID is nil for a
// create action; RelatedTestCaseID then names the candidate the decision
// was made against, if any.
type AffectedTestCase struct {
	TestCaseID        *string          `json:"testcaseId"`
	RelatedTestCaseID *string          `json:"relatedTestcaseId,omitempty"`
	Code              string           `json:"code,omitempty"`
	Title             string           `json:"title,omitempty"`
	ModuleID          *string          `json:"moduleId"`
	Action            reasoning.Action `json:"action"`
	Reason            string           `json:"reason"`
	Suggestions       []string         `json:"suggestions"`
	Fallback          bool             `json:"fallback,omitempty"`
}

// PRDChange is one PRD that differs between the versions.
type PRDChange struct {
	ChangeType        reasoning.ChangeType `json:"changeType"`
	BasePRDID         *string              `json:"basePrdId"`
	ComparePRDID      *string              `json:"comparePrdId"`
	Code              string               `json:"code"`
	Title             string               `json:"title"`
	ModuleID          *string              `json:"moduleId"`
	BaseVersion       int                  `json:"baseVersion,omitempty"`
	CompareVersion    int                  `json:"compareVersion,omitempty"`
	Diff              string               `json:"diff"`
	ImpactLevel       Level                `json:"impactLevel"`
	AffectedTestCases []AffectedTestCase   `json:"affectedTestcases"`
}

// PRDChangeCounts counts PRD changes by type.
type PRDChangeCounts struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
}

// ActionCounts counts recommended test case actions.
type ActionCounts struct {
	Create    int `json:"create"`
	Update    int `json:"update"`
	Deprecate int `json:"deprecate"`
	Keep      int `json:"keep"`
}

// Report is the result of an analysis.
type Report struct {
	ProjectID        string          `json:"projectId"`
	BaseVersionID    string          `json:"baseVersionId"`
	CompareVersionID string          `json:"compareVersionId"`
	ModuleID         string          `json:"moduleId,omitempty"`
	ImpactLevel      Level           `json:"impactLevel"`
	PRDChanges       PRDChangeCounts `json:"prdChanges"`
	TestCaseActions  ActionCounts    `json:"testcaseActions"`
	Details          []PRDChange     `json:"details"`
	FallbackCount    int             `json:"fallbackCount"`
	GeneratedAt      time.Time       `json:"generatedAt"`
}
