package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(ttl time.Duration, maxKeys int) (*Guard, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGuard(ttl, maxKeys)
	g.now = clock.Now
	return g, clock
}

func TestGuard_TryClaimOnce(t *testing.T) {
	g, _ := newTestGuard(0, 0)

	if !g.TryClaim(ConvertKey("dep1")) {
		t.Fatal("First claim should succeed")
	}
	if g.TryClaim(ConvertKey("dep1")) {
		t.Error("Second claim should fail")
	}
	if !g.TryClaim(ConvertKey("dep2")) {
		t.Error("Different key should be claimable")
	}
}

func TestGuard_Concurrent(t *testing.T) {
	g, _ := newTestGuard(time.Hour, 100)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryClaim("convert:same") {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins)
	}
}

func TestGuard_TTLExpiry(t *testing.T) {
	g, clock := newTestGuard(time.Minute, 0)

	g.TryClaim("k")
	clock.Advance(59 * time.Second)
	if g.TryClaim("k") {
		t.Error("Claim should still be held before TTL")
	}

	clock.Advance(time.Second)
	if !g.TryClaim("k") {
		t.Error("Claim should be available after TTL")
	}
}

func TestGuard_BoundedEviction(t *testing.T) {
	g, clock := newTestGuard(0, 3)

	for _, k := range []string{"a", "b", "c"} {
		g.TryClaim(k)
		clock.Advance(time.Second)
	}
	if !g.TryClaim("d") {
		t.Fatal("Claim on a full guard should evict rather than fail")
	}
	if g.Len() != 3 {
		t.Errorf("Expected 3 tracked keys, got %d", g.Len())
	}
	if g.IsClaimed("a") {
		t.Error("Oldest key should have been evicted")
	}
	if !g.IsClaimed("b") || !g.IsClaimed("d") {
		t.Error("Newer keys should be retained")
	}
}

func TestGuard_Release(t *testing.T) {
	g, _ := newTestGuard(0, 0)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Claim failed: %v %v", ok, err)
	}
	if err := g.Release(ctx, "k"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := g.Claim(ctx, "k"); !ok {
		t.Error("Released key should be claimable again")
	}
}

func TestGuard_CleanupExpired(t *testing.T) {
	g, clock := newTestGuard(time.Minute, 0)

	g.TryClaim("old")
	clock.Advance(2 * time.Minute)
	g.TryClaim("new")

	g.cleanupExpired()

	if g.Len() != 1 {
		t.Errorf("Expected 1 claim after cleanup, got %d", g.Len())
	}
	if !g.IsClaimed("new") {
		t.Error("Fresh claim should survive cleanup")
	}
}
