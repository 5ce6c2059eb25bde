package repository

import (
	"context"
	"testing"
	"time"

	"DigitPilot/pkg/cache"
)

func TestSignalLockExcludesSecondAcquire(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	locker := NewSignalLockRepository(mc)
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "sess-1:R_10:5:over", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}

	ok, err = locker.Acquire(ctx, "sess-1:R_10:5:over", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire succeeded while lock held")
	}

	if err := locker.Release(ctx, "sess-1:R_10:5:over"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = locker.Acquire(ctx, "sess-1:R_10:5:over", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire after release = %v, %v", ok, err)
	}
}

func TestSignalLockKeysAreIndependent(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	locker := NewSignalLockRepository(mc)
	ctx := context.Background()

	if ok, _ := locker.Acquire(ctx, "sess-1:R_10:5:over", time.Minute); !ok {
		t.Fatal("acquire over lock")
	}
	if ok, _ := locker.Acquire(ctx, "sess-1:R_10:5:under", time.Minute); !ok {
		t.Fatal("under lock blocked by over lock")
	}
}
