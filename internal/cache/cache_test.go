package cache

import (
	"testing"
	"time"
)

func TestSetGetExpire(t *testing.T) {
	c := New[[]float32](time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", []float32{1, 2})
	if v, ok := c.Get("a"); !ok || len(v) != 2 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not dropped, len = %d", c.Len())
	}
}

func TestCleanup(t *testing.T) {
	c := New[string](time.Second)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("old", "x")
	now = now.Add(2 * time.Second)
	c.Set("new", "y")

	if removed := c.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatal("fresh entry was removed")
	}
}

func TestGenerateKey(t *testing.T) {
	if GenerateKey("ab", "c") == GenerateKey("a", "bc") {
		t.Fatal("parts must not collide across boundaries")
	}
	if GenerateKey("m", "t") != GenerateKey("m", "t") {
		t.Fatal("key must be stable")
	}
}
