package cache

import (
	"bytes"
	"testing"
	"time"
)

func TestMemoryPutGet(t *testing.T) {
	tier := NewMemoryTier(nil)

	if err := tier.Put("items", "potion", []byte("red"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	value, ok, err := tier.Get("items", "potion")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(value, []byte("red")) {
		t.Errorf("Get returned %q, want %q", value, "red")
	}

	if _, ok, _ := tier.Get("items", "missing"); ok {
		t.Error("expected miss for absent key")
	}
	if _, ok, _ := tier.Get("npcs", "potion"); ok {
		t.Error("expected miss for same key in another namespace")
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	tier := NewMemoryTier(nil)
	_ = tier.Put("items", "potion", []byte("red"), 0)

	value, _, _ := tier.Get("items", "potion")
	value[0] = 'X'

	again, _, _ := tier.Get("items", "potion")
	if !bytes.Equal(again, []byte("red")) {
		t.Error("caller mutation leaked into the cached value")
	}
}

func TestMemoryLazyExpiry(t *testing.T) {
	tier := NewMemoryTier(nil)
	_ = tier.Put("items", "potion", []byte("red"), time.Millisecond)

	time.Sleep(10 * time.Millisecond)

	if _, ok, _ := tier.Get("items", "potion"); ok {
		t.Fatal("expired entry still visible")
	}
	// Hidden, not removed: physical removal is the sweep's job.
	if len(tier.Keys()) != 1 {
		t.Errorf("expired entry physically removed by Get; %d keys resident", len(tier.Keys()))
	}

	removed, err := tier.EvictExpired()
	if err != nil || removed != 1 {
		t.Fatalf("EvictExpired: removed=%d err=%v", removed, err)
	}
	if len(tier.Keys()) != 0 {
		t.Error("expired entry survived the sweep")
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	// Capacity of two one-byte entries. After touching a, inserting c
	// must evict b.
	tier := NewMemoryTier(&MemoryTierConfig{Capacity: 2, MaxEntries: 100})

	_ = tier.Put("ns", "a", []byte("1"), 0)
	_ = tier.Put("ns", "b", []byte("2"), 0)
	if _, ok, _ := tier.Get("ns", "a"); !ok {
		t.Fatal("warm-up read of a missed")
	}
	_ = tier.Put("ns", "c", []byte("3"), 0)

	if _, ok, _ := tier.Get("ns", "a"); !ok {
		t.Error("recently used entry a was evicted")
	}
	if _, ok, _ := tier.Get("ns", "b"); ok {
		t.Error("least recently used entry b survived")
	}
	if _, ok, _ := tier.Get("ns", "c"); !ok {
		t.Error("newly inserted entry c missing")
	}
	if tier.Size() > 2 {
		t.Errorf("resident size %d exceeds capacity after Put returned", tier.Size())
	}
}

func TestMemoryMaxEntries(t *testing.T) {
	tier := NewMemoryTier(&MemoryTierConfig{Capacity: 1 << 20, MaxEntries: 3})

	for _, key := range []string{"a", "b", "c", "d"} {
		_ = tier.Put("ns", key, []byte("v"), 0)
	}

	if got := tier.Stats().Entries; got != 3 {
		t.Errorf("resident entries = %d, want 3", got)
	}
	if _, ok, _ := tier.Get("ns", "a"); ok {
		t.Error("oldest entry a survived the entry budget")
	}
}

func TestMemoryOversizedValue(t *testing.T) {
	// A value larger than the whole tier cannot stay resident.
	tier := NewMemoryTier(&MemoryTierConfig{Capacity: 4, MaxEntries: 100})

	_ = tier.Put("ns", "big", []byte("123456789"), 0)
	if tier.Size() > 4 {
		t.Errorf("resident size %d exceeds capacity", tier.Size())
	}
}

func TestMemoryReplace(t *testing.T) {
	tier := NewMemoryTier(nil)

	_ = tier.Put("ns", "k", []byte("short"), 0)
	_ = tier.Put("ns", "k", []byte("a much longer value"), 0)

	value, _, _ := tier.Get("ns", "k")
	if !bytes.Equal(value, []byte("a much longer value")) {
		t.Error("replacement did not take")
	}
	if tier.Size() != int64(len("a much longer value")) {
		t.Errorf("size accounting after replace = %d", tier.Size())
	}
}

func TestMemoryInvalidate(t *testing.T) {
	tier := NewMemoryTier(nil)
	_ = tier.Put("items", "a", []byte("1"), 0)
	_ = tier.Put("items", "b", []byte("2"), 0)
	_ = tier.Put("npcs", "a", []byte("3"), 0)

	if err := tier.Invalidate("items", "a"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := tier.Invalidate("items", "absent"); err != nil {
		t.Errorf("Invalidate of absent key returned %v", err)
	}
	if _, ok, _ := tier.Get("items", "a"); ok {
		t.Error("invalidated entry still visible")
	}

	if err := tier.InvalidateNamespace("items"); err != nil {
		t.Fatalf("InvalidateNamespace: %v", err)
	}
	if _, ok, _ := tier.Get("items", "b"); ok {
		t.Error("namespace invalidation left items/b behind")
	}
	if _, ok, _ := tier.Get("npcs", "a"); !ok {
		t.Error("namespace invalidation crossed into npcs")
	}
}

func TestMemoryStats(t *testing.T) {
	tier := NewMemoryTier(&MemoryTierConfig{Capacity: 100, MaxEntries: 10})

	_ = tier.Put("ns", "k", []byte("12345"), 0)
	_, _, _ = tier.Get("ns", "k")
	_, _, _ = tier.Get("ns", "k")
	_, _, _ = tier.Get("ns", "absent")

	stats := tier.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 2/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("hit rate = %f, want 2/3", stats.HitRate)
	}
	if stats.Size != 5 || stats.Entries != 1 {
		t.Errorf("size=%d entries=%d, want 5/1", stats.Size, stats.Entries)
	}
	if stats.Utilization != 0.05 {
		t.Errorf("utilization = %f, want 0.05", stats.Utilization)
	}
}
