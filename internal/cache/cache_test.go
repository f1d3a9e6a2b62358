package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestPutGetExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New()
	c.SetClock(clock.now)

	c.Put("labelCounts__1", 42, time.Minute)
	v, ok := c.Get("labelCounts__1")
	if !ok || v.(int) != 42 {
		t.Fatalf("expected 42, got %v ok=%v", v, ok)
	}

	clock.t = clock.t.Add(59 * time.Second)
	if _, ok := c.Get("labelCounts__1"); !ok {
		t.Fatal("expected entry before expiry")
	}

	clock.t = clock.t.Add(time.Second)
	if _, ok := c.Get("labelCounts__1"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry dropped, got %d entries", c.Len())
	}
}

func TestPutNilOrZeroTTLDeletes(t *testing.T) {
	c := New()
	c.Put("a", "x", time.Hour)
	c.Put("a", nil, time.Hour)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected nil value to delete")
	}

	c.Put("b", "x", time.Hour)
	c.Put("b", "y", 0)
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected zero ttl to delete")
	}
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New()
	c.SetClock(clock.now)
	c.Put("short", 1, time.Second)
	c.Put("long", 2, time.Hour)

	clock.t = clock.t.Add(time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatal("expected long entry to survive")
	}
}

func TestClear(t *testing.T) {
	c := New()
	c.Put("a", 1, time.Hour)
	c.Put("b", 2, time.Hour)
	c.Clear()
	if n := c.Len(); n != 0 {
		t.Fatalf("expected empty cache, got %d entries", n)
	}
}
