package querycache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c, err := New(10, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec := []float32{0.1, 0.2, 0.3}
	c.Set("user-1", "what is my phone number", vec)

	got, ok := c.Get("user-1", "what is my phone number")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(got))
	}
}

func TestCache_MissOnDifferentUser(t *testing.T) {
	c, _ := New(10, time.Minute)
	c.Set("user-1", "same query", []float32{1, 2, 3})

	if _, ok := c.Get("user-2", "same query"); ok {
		t.Fatal("expected miss for different user despite identical query")
	}
}

func TestCache_MissOnDifferentQuery(t *testing.T) {
	c, _ := New(10, time.Minute)
	c.Set("user-1", "query a", []float32{1})

	if _, ok := c.Get("user-1", "query b"); ok {
		t.Fatal("expected miss for different query")
	}
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c, _ := New(10, 10*time.Millisecond)
	c.Set("user-1", "q", []float32{1})

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("user-1", "q"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCache_Purge(t *testing.T) {
	c, _ := New(10, 10*time.Millisecond)
	c.Set("user-1", "q1", []float32{1})
	c.Set("user-1", "q2", []float32{2})

	time.Sleep(30 * time.Millisecond)
	c.Purge()

	if c.Len() != 0 {
		t.Fatalf("expected purge to evict all expired entries, got %d remaining", c.Len())
	}
}

func TestCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c, _ := New(2, time.Minute)
	c.Set("user-1", "q1", []float32{1})
	c.Set("user-1", "q2", []float32{2})
	c.Set("user-1", "q3", []float32{3})

	if c.Len() != 2 {
		t.Fatalf("expected LRU to cap at 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("user-1", "q1"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
}
