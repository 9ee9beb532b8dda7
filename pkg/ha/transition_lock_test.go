package ha

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker(time.Second)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "prd-1")
			if !assert.NoError(t, err) {
				return
			}
			cur := inside.Add(1)
			for {
				prev := maxInside.Load()
				if cur <= prev || maxInside.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, locker.slots)
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)

	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockerTimeoutIsConflict(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "prd-1")
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), "prd-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))

	unlock()
	unlock() // idempotent

	unlock2, err := locker.Lock(context.Background(), "prd-1")
	require.NoError(t, err)
	unlock2()
}

func TestLocalLockerCanceledContext(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTransitionLockerSQLiteUsesLocal(t *testing.T) {
	_, ok := NewTransitionLocker(setupTestDB(t), nil).(*LocalLocker)
	assert.True(t, ok)
	_, ok = NewTransitionLocker(nil, nil).(*LocalLocker)
	assert.True(t, ok)
}

func TestAdvisoryKeyIsStable(t *testing.T) {
	assert.Equal(t, advisoryKey("x"), advisoryKey("x"))
	assert.NotEqual(t, advisoryKey("x"), advisoryKey("y"))
	assert.LessOrEqual(t, len(mysqlLockName("some-long-artifact-id-0000-0000-0000-000000000000")), 64)
}

// fakeServerLocks emulates named session locks held on the database server.
type fakeServerLocks struct {
	mu    sync.Mutex
	owner map[string]*sql.Conn
	conns map[*sql.Conn]bool
}

func newFakeServerLocks() *fakeServerLocks {
	return &fakeServerLocks{owner: map[string]*sql.Conn{}, conns: map[*sql.Conn]bool{}}
}

func (f *fakeServerLocks) sessionLocks() sessionLocks {
	return sessionLocks{
		try: func(ctx context.Context, conn *sql.Conn, key string) (bool, error) {
			if _, err := conn.ExecContext(ctx, "SELECT 1"); err != nil {
				return false, err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.conns[conn] = true
			if _, taken := f.owner[key]; taken {
				return false, nil
			}
			f.owner[key] = conn
			return true, nil
		},
		release: func(_ context.Context, _ *sql.Conn, key string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.owner, key)
			return nil
		},
		releaseAll: func(context.Context, *sql.Conn) error { return nil },
	}
}

func TestDBLockerBatchSharesOneConnection(t *testing.T) {
	db := setupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(3)

	server := newFakeServerLocks()
	locker := newDBLocker(db, time.Second, server.sessionLocks())

	var unlocks []Unlock
	for i := 0; i < 10; i++ {
		unlock, err := locker.Lock(context.Background(), fmt.Sprintf("artifact-%d", i))
		require.NoError(t, err, "lock %d", i)
		unlocks = append(unlocks, unlock)
	}
	assert.Len(t, server.conns, 1)

	done := make(chan error, 1)
	go func() { done <- db.Exec("SELECT 1").Error }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("query blocked while transition locks were held")
	}

	for _, unlock := range unlocks {
		unlock()
	}
	assert.Empty(t, server.owner)
	assert.Equal(t, 0, sqlDB.Stats().InUse)
}

func TestDBLockerExhaustedPoolIsConflict(t *testing.T) {
	db := setupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	busy, err := sqlDB.Conn(context.Background())
	require.NoError(t, err)
	defer busy.Close()

	locker := newDBLocker(db, 100*time.Millisecond, newFakeServerLocks().sessionLocks())
	start := time.Now()
	_, err = locker.Lock(context.Background(), "a1")
	assert.True(t, errs.Is(err, errs.KindConflict), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDBLockerHeldElsewhereIsConflict(t *testing.T) {
	db := setupTestDB(t)
	server := newFakeServerLocks()
	server.owner["a1"] = nil

	locker := newDBLocker(db, 150*time.Millisecond, server.sessionLocks())
	_, err := locker.Lock(context.Background(), "a1")
	assert.True(t, errs.Is(err, errs.KindConflict), "got %v", err)

	delete(server.owner, "a1")
	unlock, err := locker.Lock(context.Background(), "a1")
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Empty(t, server.owner)
}
