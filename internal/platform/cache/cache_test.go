package cache

import (
	"sync"
	"testing"
	"time"
)

func TestGetMissingKey(t *testing.T) {
	c := New()
	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestSetAndGet(t *testing.T) {
	c := New()
	c.Set("k", 42, time.Minute)
	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(int) != 42 {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })

	c.Set("k", "v", 5*time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be swept, len=%d", c.Len())
	}
}

func TestOverwriteRenewsTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })

	c.Set("k", 1, time.Minute)
	now = now.Add(50 * time.Second)
	c.Set("k", 2, time.Minute)
	now = now.Add(30 * time.Second)

	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit, TTL should have been renewed")
	}
	if v.(int) != 2 {
		t.Errorf("expected last write to win, got %v", v)
	}
}

func TestDelete(t *testing.T) {
	c := New()
	c.Set("k", "v", time.Minute)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("shared", j, time.Minute)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get("shared")
			}
		}()
	}
	wg.Wait()
	if _, ok := c.Get("shared"); !ok {
		t.Error("expected value after concurrent writes")
	}
}
