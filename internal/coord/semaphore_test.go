package coord

import (
	"context"
	"testing"
	"time"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	rdb := newTestRedis(t)
	sem := NewSemaphore(rdb)
	ctx := context.Background()
	limits := SemaphoreLimits{MaxGlobal: 2, PerChannel: 1}

	if err := sem.Acquire(ctx, "ch1", limits); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := sem.GlobalCount(ctx); got != 1 {
		t.Fatalf("global count = %d, want 1", got)
	}
	if got := sem.ChannelCount(ctx, "ch1"); got != 1 {
		t.Fatalf("channel count = %d, want 1", got)
	}

	// Second slot on another channel still fits the global limit
	if err := sem.Acquire(ctx, "ch2", limits); err != nil {
		t.Fatalf("acquire ch2: %v", err)
	}
	if got := sem.GlobalCount(ctx); got != 2 {
		t.Fatalf("global count = %d, want 2", got)
	}

	if err := sem.Release(ctx, "ch1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := sem.ChannelCount(ctx, "ch1"); got != 0 {
		t.Fatalf("channel count after release = %d, want 0", got)
	}
	if got := sem.GlobalCount(ctx); got != 1 {
		t.Fatalf("global count after release = %d, want 1", got)
	}
}

func TestSemaphoreChannelLimitBlocks(t *testing.T) {
	rdb := newTestRedis(t)
	sem := NewSemaphore(rdb)
	ctx := context.Background()
	limits := SemaphoreLimits{MaxGlobal: 5, PerChannel: 1}

	if err := sem.Acquire(ctx, "ch1", limits); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Second acquisition on the same channel must poll until released
	acquired := make(chan error, 1)
	go func() {
		acquired <- sem.Acquire(ctx, "ch1", limits)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second acquire returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
		// still waiting, as expected
	}

	// A failed channel attempt must not leak a global slot
	if got := sem.GlobalCount(ctx); got != 1 {
		t.Fatalf("global count while blocked = %d, want 1", got)
	}

	if err := sem.Release(ctx, "ch1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("second acquire: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestSemaphoreGlobalLimitBlocks(t *testing.T) {
	rdb := newTestRedis(t)
	sem := NewSemaphore(rdb)
	ctx := context.Background()
	limits := SemaphoreLimits{MaxGlobal: 1, PerChannel: 5}

	if err := sem.Acquire(ctx, "ch1", limits); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx2, "ch2", limits); err == nil {
		t.Fatal("acquire should block until context deadline")
	}

	// The aborted attempt must leave the counter untouched
	if got := sem.GlobalCount(ctx); got != 1 {
		t.Fatalf("global count = %d, want 1", got)
	}
}

func TestSemaphoreReleaseDeletesNonPositiveKeys(t *testing.T) {
	rdb := newTestRedis(t)
	sem := NewSemaphore(rdb)
	ctx := context.Background()

	// Release without a matching acquire drives counters negative;
	// the release script must delete the keys to restore a clean state.
	if err := sem.Release(ctx, "ch1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := rdb.Exists(ctx, KeySemaphoreGlobal).Result(); n != 0 {
		t.Fatal("global key should be deleted when non-positive")
	}
	if n, _ := rdb.Exists(ctx, KeySemaphoreChan+"ch1").Result(); n != 0 {
		t.Fatal("channel key should be deleted when non-positive")
	}

	// A fresh acquire works immediately afterwards
	if err := sem.Acquire(ctx, "ch1", SemaphoreLimits{MaxGlobal: 1, PerChannel: 1}); err != nil {
		t.Fatalf("acquire after cleanup: %v", err)
	}
}
