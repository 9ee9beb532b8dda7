package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// JobStore provides database operations for deindex jobs.
type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// WithTx returns a JobStore bound to an open transaction.
func (s *JobStore) WithTx(tx *gorm.DB) *JobStore {
	return &JobStore{db: tx, now: s.now}
}

// AutoMigrate creates or updates the deindex_jobs table.
func (s *JobStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&DeindexJob{}); err != nil {
		return fmt.Errorf("auto-migrate deindex_jobs: %w", err)
	}
	return nil
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	ProjectID  string
	ArtifactID string
	State      string
}

var activeStates = []JobState{JobStateQueued, JobStateRunning}
var terminalStates = []JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}

// Enqueue creates a new queued job. If idempotencyKey is non-empty and a
// non-terminal job with the same key exists, the existing job is returned
// instead of creating a duplicate.
func (s *JobStore) Enqueue(ctx context.Context, job *DeindexJob) (*DeindexJob, error) {
	now := s.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedBy == "" {
		job.RequestedBy = "system"
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = now
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}

	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}
	if job.IdempotencyKey == nil {
		if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		return job, nil
	}

	var result *DeindexJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DeindexJob
		err := tx.Where("idempotency_key = ? AND state IN ?", *job.IdempotencyKey, activeStates).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Release the key held by finished jobs so the unique index admits
		// the new one.
		if err := tx.Model(&DeindexJob{}).
			Where("idempotency_key = ? AND state IN ?", *job.IdempotencyKey, terminalStates).
			Update("idempotency_key", nil).Error; err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}

		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Claim atomically picks a due queued job and transitions it to running.
// Uses FOR UPDATE SKIP LOCKED on PostgreSQL. Returns nil if no jobs are
// available.
func (s *JobStore) Claim(ctx context.Context, maxRetries int) (*DeindexJob, error) {
	var job DeindexJob
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if db.IsPostgres(tx) {
			if err := tx.Raw(`
				SELECT * FROM deindex_jobs
				WHERE state = ? AND attempt_count < ? AND next_attempt_at <= ?
				ORDER BY next_attempt_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			`, JobStateQueued, maxRetries, now).Scan(&job).Error; err != nil {
				return err
			}
		} else {
			err := tx.Where("state = ? AND attempt_count < ? AND next_attempt_at <= ?", JobStateQueued, maxRetries, now).
				Order("next_attempt_at ASC").
				Limit(1).
				First(&job).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		if job.ID == "" {
			return nil
		}

		result := tx.Model(&DeindexJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Claimed by another worker.
			job = DeindexJob{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}

	if err := s.db.WithContext(ctx).First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID string, duration time.Duration) error {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&DeindexJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":       JobStateSucceeded,
		"finished_at": now,
		"duration_ms": duration.Milliseconds(),
		"message":     "Removed from index",
	})
	if result.Error != nil {
		return fmt.Errorf("complete job: %w", result.Error)
	}
	return nil
}

// Fail records a failed attempt. While the attempt count is below
// maxRetries the job is requeued to run again after delay; otherwise it is
// marked failed.
func (s *JobStore) Fail(ctx context.Context, jobID, errMsg string, maxRetries int, delay time.Duration) error {
	now := s.now()

	var job DeindexJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load job for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": now,
	}
	if job.AttemptCount < maxRetries {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
		updates["next_attempt_at"] = now.Add(delay)
	} else {
		updates["state"] = JobStateFailed
		updates["message"] = "Max retries exceeded: " + errMsg
	}

	if err := s.db.WithContext(ctx).Model(&DeindexJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Cancel marks a queued job as canceled. Running jobs cannot be canceled.
func (s *JobStore) Cancel(ctx context.Context, projectID, jobID string) error {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&DeindexJob{}).
		Where("id = ? AND project_id = ? AND state = ?", jobID, projectID, JobStateQueued).
		Updates(map[string]any{
			"state":       JobStateCanceled,
			"finished_at": now,
			"message":     "Canceled by user",
		})
	if result.Error != nil {
		return fmt.Errorf("cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		job, err := s.Get(ctx, projectID, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return errs.NotFound("job", jobID)
		}
		return errs.Conflict("job", jobID, "job is %s, only queued jobs can be canceled", job.State)
	}
	return nil
}

// Get retrieves a job of a project. Returns nil, nil if none exists.
func (s *JobStore) Get(ctx context.Context, projectID, jobID string) (*DeindexJob, error) {
	var job DeindexJob
	if err := s.db.WithContext(ctx).First(&job, "id = ? AND project_id = ?", jobID, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List returns jobs matching filter, newest first, with the total match count.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]DeindexJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.WithContext(ctx).Model(&DeindexJob{})
		if filter.ProjectID != "" {
			q = q.Where("project_id = ?", filter.ProjectID)
		}
		if filter.ArtifactID != "" {
			q = q.Where("artifact_id = ?", filter.ArtifactID)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	cursor, err := db.ParseCursor(pageToken)
	if err != nil {
		return nil, "", 0, err
	}
	var records []DeindexJob
	if err := cursor.After(buildQuery(s.db), "requested_at").Limit(pageSize + 1).Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		last := records[pageSize-1]
		nextToken = db.Cursor{At: last.RequestedAt, ID: last.ID}.Token()
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}

// CountActive returns the number of queued or running jobs of a project.
func (s *JobStore) CountActive(ctx context.Context, projectID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&DeindexJob{}).
		Where("project_id = ? AND state IN ?", projectID, activeStates).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// CleanupStuckJobs transitions running jobs that have been stuck
// (started_at older than claimTimeout) back to queued for retry.
func (s *JobStore) CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&DeindexJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, now.Add(-claimTimeout)).
		Updates(map[string]any{
			"state":           JobStateQueued,
			"started_at":      nil,
			"next_attempt_at": now,
			"last_error":      "Timed out (stuck job recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal jobs older than the given cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?", terminalStates, cutoff).
		Delete(&DeindexJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
