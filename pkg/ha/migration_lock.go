package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes AutoMigrate calls across replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

var migrationLockID = int64(crc32.ChecksumIEEE([]byte("rag-server-migration")))

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks; other databases use a table-based
// fallback. A nil cfg uses DefaultLockConfig.
func NewMigrationLocker(db *gorm.DB, cfg *LockConfig) MigrationLocker {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if db == nil || !cfg.MigrationLockEnabled {
		return noopMigrationLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{db: db, lockID: migrationLockID}
	}
	// Create the lock table up front so concurrent first callers never see
	// "no such table".
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableMigrationLock{
		db:         db,
		owner:      cfg.Identity,
		staleAfter: cfg.StaleLockAge,
		retry:      time.Second,
		maxRetries: 30,
	}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Session-level advisory locks belong to a connection, so the lock and
	// unlock must run on the same one.
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection for migration lock: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID)
	}()

	return fn()
}

// migrationLockRecord is the lock row used on SQLite and MySQL.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock relies on primary-key uniqueness of a single row. Rows
// older than staleAfter are removed before each attempt so a crashed holder
// cannot block start-up forever.
type tableMigrationLock struct {
	db         *gorm.DB
	owner      string
	staleAfter time.Duration
	retry      time.Duration
	maxRetries int
}

const migrationRowID = "migration"

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", migrationRowID, now.Add(-l.staleAfter)).
			Delete(&migrationLockRecord{})

		lastErr = l.db.WithContext(ctx).Create(&migrationLockRecord{
			ID:       migrationRowID,
			LockedAt: now,
			LockedBy: l.owner,
		}).Error
		if lastErr == nil {
			break
		}
		if attempt+1 >= l.maxRetries {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", l.maxRetries, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}

	defer l.db.Where("id = ?", migrationRowID).Delete(&migrationLockRecord{})
	return fn()
}
