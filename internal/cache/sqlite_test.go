package cache

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*StoreTier, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	tier, err := NewStoreTier(&StoreTierConfig{Path: path})
	if err != nil {
		t.Fatalf("NewStoreTier: %v", err)
	}
	t.Cleanup(func() { _ = tier.Close() })
	return tier, path
}

func TestStorePutGet(t *testing.T) {
	tier, _ := newTestStore(t)

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
	if _, ok, _ := tier.Get("items", "absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestStoreDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	tier, err := NewStoreTier(&StoreTierConfig{Path: path})
	if err != nil {
		t.Fatalf("NewStoreTier: %v", err)
	}
	if err := tier.Put("items", "potion", []byte("red"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tier.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStoreTier(&StoreTierConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	value, ok, err := reopened.Get("items", "potion")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(value, []byte("red")) {
		t.Error("value did not survive restart")
	}
	if reopened.Size() != 3 {
		t.Errorf("resident size after reopen = %d, want 3", reopened.Size())
	}
}

func TestStoreLazyExpiry(t *testing.T) {
	tier, _ := newTestStore(t)

	if err := tier.Put("items", "potion", []byte("red"), time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, ok, _ := tier.Get("items", "potion"); ok {
		t.Fatal("expired row still visible")
	}

	// Hidden but still on disk until the sweep runs.
	expired, err := tier.ScanExpired(10)
	if err != nil {
		t.Fatalf("ScanExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].Namespace != "items" || expired[0].Key != "potion" {
		t.Fatalf("ScanExpired = %+v, want items/potion", expired)
	}

	removed, err := tier.EvictExpired()
	if err != nil || removed != 1 {
		t.Fatalf("EvictExpired: removed=%d err=%v", removed, err)
	}
	if expired, _ := tier.ScanExpired(10); len(expired) != 0 {
		t.Error("expired row survived the sweep")
	}
	if tier.Size() != 0 {
		t.Errorf("resident size after sweep = %d", tier.Size())
	}
}

func TestStoreAccessTracking(t *testing.T) {
	tier, _ := newTestStore(t)
	_ = tier.Put("items", "potion", []byte("red"), time.Hour)

	for i := 0; i < 3; i++ {
		if _, ok, _ := tier.Get("items", "potion"); !ok {
			t.Fatal("unexpected miss")
		}
	}

	record, ok, err := tier.GetRecord("items", "potion")
	if err != nil || !ok {
		t.Fatalf("GetRecord: ok=%v err=%v", ok, err)
	}
	if record.AccessCount != 4 {
		t.Errorf("access count = %d, want 4", record.AccessCount)
	}
}

func TestStorePointerRecords(t *testing.T) {
	tier, _ := newTestStore(t)

	created := time.Now()
	if err := tier.PutPointer("items", "big-map", 5000, created, time.Hour); err != nil {
		t.Fatalf("PutPointer: %v", err)
	}

	// A pointer is not a value hit.
	if _, ok, _ := tier.Get("items", "big-map"); ok {
		t.Error("pointer record served as a value hit")
	}

	record, ok, err := tier.GetRecord("items", "big-map")
	if err != nil || !ok {
		t.Fatalf("GetRecord: ok=%v err=%v", ok, err)
	}
	if !record.Pointer {
		t.Error("record not flagged as pointer")
	}
	if record.Size != 5000 {
		t.Errorf("pointer size = %d, want 5000", record.Size)
	}

	// Pointer rows do not count toward resident inline bytes.
	if tier.Size() != 0 {
		t.Errorf("resident size with only a pointer = %d", tier.Size())
	}

	// Upgrading a pointer to a full copy keeps the original expiry window.
	if err := tier.PutFull("items", "big-map", []byte("payload"), created, time.Hour); err != nil {
		t.Fatalf("PutFull: %v", err)
	}
	record, _, _ = tier.GetRecord("items", "big-map")
	if record.Pointer {
		t.Error("record still a pointer after full promotion")
	}
	if record.CreatedAt.UnixNano() != created.UnixNano() {
		t.Error("promotion reset the creation time")
	}
	if tier.Size() != int64(len("payload")) {
		t.Errorf("resident size after promotion = %d", tier.Size())
	}
}

func TestStorePointerResolutionCountsAsMiss(t *testing.T) {
	tier, _ := newTestStore(t)

	_ = tier.Put("ns", "inline", []byte("v"), time.Hour)
	_ = tier.PutPointer("ns", "pointer", 5000, time.Now(), time.Hour)

	if _, ok, _ := tier.GetRecord("ns", "inline"); !ok {
		t.Fatal("inline record missed")
	}
	record, ok, _ := tier.GetRecord("ns", "pointer")
	if !ok || !record.Pointer {
		t.Fatal("pointer record missed")
	}

	// Only the inline lookup served a value, so only it is a hit.
	stats := tier.Stats()
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}

	// Pointer resolutions do not refresh access bookkeeping either.
	if record.AccessCount != 0 {
		t.Errorf("pointer access count = %d, want 0", record.AccessCount)
	}
	record, _, _ = tier.GetRecord("ns", "pointer")
	if record.AccessCount != 0 {
		t.Errorf("pointer access count after reresolution = %d, want 0", record.AccessCount)
	}
}

func TestStoreInvalidate(t *testing.T) {
	tier, _ := newTestStore(t)
	_ = tier.Put("items", "a", []byte("1"), time.Hour)
	_ = tier.Put("items", "b", []byte("2"), time.Hour)
	_ = tier.Put("npcs", "a", []byte("3"), time.Hour)

	if err := tier.Invalidate("items", "a"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := tier.Invalidate("items", "absent"); err != nil {
		t.Errorf("Invalidate of absent key returned %v", err)
	}
	if _, ok, _ := tier.Get("items", "a"); ok {
		t.Error("invalidated row still visible")
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
	if tier.Size() != 1 {
		t.Errorf("resident size = %d, want 1", tier.Size())
	}
}

func TestStoreEnforceBudget(t *testing.T) {
	tier, _ := newTestStore(t)

	// Distinct creation times so eviction order is deterministic.
	base := time.Now().Add(-time.Minute)
	for i, key := range []string{"oldest", "middle", "newest"} {
		err := tier.putRecord("ns", key, bytes.Repeat([]byte("x"), 10), 10,
			base.Add(time.Duration(i)*time.Second), time.Hour, locationInline)
		if err != nil {
			t.Fatalf("putRecord: %v", err)
		}
	}

	removed, err := tier.EnforceBudget(20)
	if err != nil {
		t.Fatalf("EnforceBudget: %v", err)
	}
	if removed == 0 {
		t.Fatal("budget enforcement removed nothing")
	}
	if tier.Size() > 20 {
		t.Errorf("resident size %d still over budget", tier.Size())
	}
	if _, ok, _ := tier.Get("ns", "newest"); !ok {
		t.Error("newest entry evicted before older ones")
	}
}

func TestStoreReplaceAccounting(t *testing.T) {
	tier, _ := newTestStore(t)

	_ = tier.Put("ns", "k", []byte("12345"), time.Hour)
	_ = tier.Put("ns", "k", []byte("12"), time.Hour)

	if tier.Size() != 2 {
		t.Errorf("resident size after replace = %d, want 2", tier.Size())
	}
}

func TestStoreCompact(t *testing.T) {
	tier, _ := newTestStore(t)
	_ = tier.Put("ns", "k", []byte("value"), time.Hour)

	if err := tier.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if _, ok, _ := tier.Get("ns", "k"); !ok {
		t.Error("entry lost across compaction")
	}
}
