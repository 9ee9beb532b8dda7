// Package jobs is the durable queue of index removals that could not be
// applied synchronously, together with the worker pool that drains it.
package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a deindex job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// Reasons a deindex job is queued.
const (
	ReasonArchive       = "archive"
	ReasonDelete        = "delete"
	ReasonProjectDelete = "project_delete"
)

// DeindexJob removes one artifact from the external keyword and vector
// indexes.
type DeindexJob struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID      string     `gorm:"column:project_id;type:varchar(36);index:idx_job_project_state,priority:1;not null"`
	ArtifactKind   string     `gorm:"column:artifact_kind;type:varchar(16);not null"`
	ArtifactID     string     `gorm:"column:artifact_id;type:varchar(36);index;not null"`
	Reason         string     `gorm:"column:reason;type:varchar(32)"`
	RequestedBy    string     `gorm:"column:requested_by;not null"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null"`
	State          JobState   `gorm:"column:state;index:idx_job_project_state,priority:2;index:idx_job_state_next,priority:1;not null;default:queued"`
	NextAttemptAt  time.Time  `gorm:"column:next_attempt_at;index:idx_job_state_next,priority:2;not null"`
	Message        string     `gorm:"column:message"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0"`
	LastError      string     `gorm:"column:last_error"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;uniqueIndex:idx_job_idemp_key"`
	DurationMs     int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (DeindexJob) TableName() string { return "deindex_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *DeindexJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// DeindexKey is the idempotency key shared by all removal jobs of one
// artifact, so repeated archive calls queue a single job.
func DeindexKey(kind, artifactID string) *string {
	key := "deindex:" + kind + ":" + artifactID
	return &key
}
