package ha

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// Unlock releases a lock obtained from a TransitionLocker.
type Unlock func()

// TransitionLocker grants mutual exclusion per artifact so that at most one
// status transition runs for a given id at a time.
type TransitionLocker interface {
	// Lock blocks until the key is free or the configured timeout elapses,
	// in which case it returns a Conflict error.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// NewTransitionLocker returns a locker for the database dialect. Every
// dialect takes an in-process lock first; PostgreSQL and MySQL then take a
// session-level database lock so replicas are serialized too. A wait that
// outlasts the timeout, including waiting for a pool connection, is a
// Conflict. SQLite is
// single-process and relies on the in-process lock alone.
func NewTransitionLocker(db *gorm.DB, cfg *LockConfig) TransitionLocker {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if db != nil {
		switch db.Dialector.Name() {
		case "postgres":
			return newDBLocker(db, cfg.TransitionTimeout, pgLocks)
		case "mysql":
			return newDBLocker(db, cfg.TransitionTimeout, mysqlLocks)
		}
	}
	return NewLocalLocker(cfg.TransitionTimeout)
}

func lockConflict(key string) error {
	return errs.Conflict("artifact", key, "another status transition is in progress")
}

// LocalLocker is an in-process keyed mutex with a wait timeout.
type LocalLocker struct {
	timeout time.Duration
	mu      sync.Mutex
	slots   map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. A non-positive timeout waits until
// the context is done.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{timeout: timeout, slots: make(map[string]*lockSlot)}
}

// Lock implements TransitionLocker.
func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-waitCtx.Done():
		l.drop(key, s)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, lockConflict(key)
	}
}

func (l *LocalLocker) drop(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// sessionLocks are the dialect's session-level named lock primitives. try
// must not block.
type sessionLocks struct {
	try        func(ctx context.Context, conn *sql.Conn, key string) (bool, error)
	release    func(ctx context.Context, conn *sql.Conn, key string) error
	releaseAll func(ctx context.Context, conn *sql.Conn) error
}

var (
	pgLocks = sessionLocks{
		try: func(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
			var got bool
			err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryKey(key)).Scan(&got)
			return got, err
		},
		release: func(ctx context.Context, conn *sql.Conn, key string) error {
			_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", advisoryKey(key))
			return err
		},
		releaseAll: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock_all()")
			return err
		},
	}
	mysqlLocks = sessionLocks{
		try: func(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
			var got sql.NullInt64
			if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", mysqlLockName(key)).Scan(&got); err != nil {
				return false, err
			}
			if !got.Valid {
				return false, errors.New("GET_LOCK returned NULL")
			}
			return got.Int64 == 1, nil
		},
		release: func(ctx context.Context, conn *sql.Conn, key string) error {
			_, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", mysqlLockName(key))
			return err
		},
		releaseAll: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "SELECT RELEASE_ALL_LOCKS()")
			return err
		},
	}
)

const lockPoll = 50 * time.Millisecond

// dbLocker layers a database session lock over the local lock. All keys held
// by the process share one reserved connection, so a batch transition costs
// a single pool slot however many artifacts it locks. The connection goes
// back to the pool once nothing is held.
type dbLocker struct {
	local   *LocalLocker
	db      *gorm.DB
	timeout time.Duration
	locks   sessionLocks

	// sem guards conn and held; it is a channel so waiting honors ctx.
	sem  chan struct{}
	conn *sql.Conn
	held int
}

func newDBLocker(db *gorm.DB, timeout time.Duration, locks sessionLocks) *dbLocker {
	return &dbLocker{
		local:   NewLocalLocker(timeout),
		db:      db,
		timeout: timeout,
		locks:   locks,
		sem:     make(chan struct{}, 1),
	}
}

func (l *dbLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	for {
		ok, err := l.tryLock(waitCtx, key)
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					l.unlock(key)
					unlockLocal()
				})
			}, nil
		}
		if err == nil {
			select {
			case <-time.After(lockPoll):
				continue
			case <-waitCtx.Done():
			}
		}
		unlockLocal()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case waitCtx.Err() != nil:
			return nil, lockConflict(key)
		default:
			return nil, fmt.Errorf("acquire transition lock: %w", err)
		}
	}
}

func (l *dbLocker) tryLock(ctx context.Context, key string) (bool, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-l.sem }()

	if l.conn == nil {
		sqlDB, err := l.db.DB()
		if err != nil {
			return false, fmt.Errorf("get sql.DB: %w", err)
		}
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			return false, fmt.Errorf("reserve lock connection: %w", err)
		}
		l.conn = conn
	}

	ok, err := l.locks.try(ctx, l.conn, key)
	if ok && err == nil {
		l.held++
		return true, nil
	}
	if l.held == 0 {
		l.returnConn()
	}
	return false, err
}

func (l *dbLocker) unlock(key string) {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	if l.conn == nil {
		return
	}
	_ = l.locks.release(context.Background(), l.conn, key)
	l.held--
	if l.held == 0 {
		l.returnConn()
	}
}

// returnConn hands the reserved connection back to the pool. A connection
// whose session might still own locks is discarded instead.
func (l *dbLocker) returnConn() {
	conn := l.conn
	l.conn = nil
	if err := l.locks.releaseAll(context.Background(), conn); err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	_ = conn.Close()
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("transition:" + key))
	return int64(h.Sum64())
}

// MySQL lock names are limited to 64 characters.
func mysqlLockName(key string) string {
	return fmt.Sprintf("rag:t:%x", advisoryKey(key))
}
