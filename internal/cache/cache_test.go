package cache

import "testing"

func TestLRU_PutGet(t *testing.T) {
	c := NewLRU[string, int](4)

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should report not found")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Put("a", 10)

	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) = %d, want 10", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should still be cached")
	}
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Put("c", 3)

	if _, ok := c.Get("a"); !ok {
		t.Error("a was recently used and should survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b was least recently used and should be evicted")
	}
}

func TestLRU_Evict(t *testing.T) {
	c := NewLRU[string, int](2)

	c.Put("a", 1)
	c.Evict("a")
	c.Evict("a")

	if _, ok := c.Get("a"); ok {
		t.Error("a should be gone after Evict")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}
