package cache

import (
	"testing"
	"time"
)

func TestCacheHitWithinTTL(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New[int](time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Set("k", 1)

	c.now = func() time.Time { return base.Add(59 * time.Second) }
	if _, ok := c.Get("k"); !ok {
		t.Error("entry expired before TTL")
	}
	c.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived past TTL")
	}
}

func TestCacheDisabled(t *testing.T) {
	c := New[string](0)
	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Error("zero TTL cache returned a hit")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("k", "v")
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Error("Get hit after Invalidate")
	}
}
