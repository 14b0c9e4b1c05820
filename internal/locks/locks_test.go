package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"marketplace-ledger-reconciler/pkg/errors"
)

func TestLocalLockerSerialisesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Acquire(ctx, "tenant/t1/platform/p1")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			lease.Release(ctx)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside)
	}
	if locker.held() != 0 {
		t.Errorf("expected all slots to be released, %d left", locker.held())
	}
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	a, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer a.Release(ctx)

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	b, err := locker.Acquire(timeout, "b")
	if err != nil {
		t.Fatalf("a different key should not block: %v", err)
	}
	b.Release(ctx)
}

func TestLocalLockerCancelledWait(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	lease, _ := locker.Acquire(ctx, "k")

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(waitCtx, "k"); !errors.HasCode(err, errors.CodeCancelled) {
		t.Errorf("expected cancelled, got %v", err)
	}

	lease.Release(ctx)
	lease.Release(ctx)

	again, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again.Release(ctx)
	if locker.held() != 0 {
		t.Errorf("expected no slots left, got %d", locker.held())
	}
}

func newTestRedisLocker(t *testing.T, config RedisLockerConfig) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, config), mr
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	locker, mr := newTestRedisLocker(t, RedisLockerConfig{TTL: time.Minute})

	lease, err := locker.Acquire(ctx, "tenant/t1/platform/p1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !mr.Exists("reconciler:lock:tenant/t1/platform/p1") {
		t.Error("expected lock key in redis")
	}

	if _, err := locker.Acquire(ctx, "tenant/t1/platform/p1"); !errors.HasCode(err, errors.CodeLockNotObtained) {
		t.Errorf("expected lock_not_obtained, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mr.Exists("reconciler:lock:tenant/t1/platform/p1") {
		t.Error("lock key should be gone after release")
	}

	again, err := locker.Acquire(ctx, "tenant/t1/platform/p1")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again.Release(ctx)
}

func TestRedisLockerExpiredLease(t *testing.T) {
	ctx := context.Background()
	locker, mr := newTestRedisLocker(t, RedisLockerConfig{TTL: time.Second})

	lease, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	if err := lease.Release(ctx); err == nil {
		t.Error("releasing an expired lease should report an error")
	}
}
