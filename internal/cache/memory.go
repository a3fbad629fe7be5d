package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/cachekit/cachekit/pkg/types"
)

var _ types.Tier = (*MemoryTier)(nil)

// MemoryTier implements the L1 in-memory tier: a thread-safe LRU bounded
// by resident bytes and entry count. Volatile; contents are lost on
// process restart. Operations never block on I/O.
type MemoryTier struct {
	mu          sync.Mutex
	capacity    int64
	maxEntries  int
	currentSize int64
	items       map[string]*memoryItem
	evictList   *list.List

	stats types.TierStats
}

// memoryItem is an entry resident in L1
type memoryItem struct {
	entry   *Entry
	element *list.Element
}

// listEntry is the value stored in eviction list elements
type listEntry struct {
	key string
}

// MemoryTierConfig configures the L1 tier
type MemoryTierConfig struct {
	Capacity   int64
	MaxEntries int
}

// NewMemoryTier creates the L1 tier
func NewMemoryTier(config *MemoryTierConfig) *MemoryTier {
	if config == nil {
		config = &MemoryTierConfig{
			Capacity:   64 * 1024 * 1024,
			MaxEntries: 10000,
		}
	}

	return &MemoryTier{
		capacity:   config.Capacity,
		maxEntries: config.MaxEntries,
		items:      make(map[string]*memoryItem),
		evictList:  list.New(),
		stats: types.TierStats{
			Capacity: config.Capacity,
		},
	}
}

// Get returns the value for a namespaced key and refreshes its recency.
// Expired entries are hidden but not removed; physical removal is the
// maintenance daemon's job.
func (t *MemoryTier) Get(namespace, key string) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, exists := t.items[entryKey(namespace, key)]
	if !exists || item.entry.Expired(time.Now()) {
		t.stats.Misses++
		return nil, false, nil
	}

	item.entry.LastAccessed = time.Now()
	item.entry.AccessCount++
	t.evictList.MoveToFront(item.element)
	t.stats.Hits++

	result := make([]byte, len(item.entry.Value))
	copy(result, item.entry.Value)
	return result, true, nil
}

// Put inserts or replaces an entry. The critical section covers capacity
// check, eviction and insert, so resident size never exceeds capacity
// once Put returns.
func (t *MemoryTier) Put(namespace, key string, value []byte, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ck := entryKey(namespace, key)
	entry := NewEntry(namespace, key, value, ttl)
	entry.Tier = types.TierMemory

	if existing, exists := t.items[ck]; exists {
		t.currentSize -= existing.entry.Size
		existing.entry = entry
		t.currentSize += entry.Size
		t.evictList.MoveToFront(existing.element)
	} else {
		element := t.evictList.PushFront(&listEntry{key: ck})
		t.items[ck] = &memoryItem{entry: entry, element: element}
		t.currentSize += entry.Size
	}

	t.evictIfNeeded()
	return nil
}

// Invalidate removes an entry; absent keys are not an error.
func (t *MemoryTier) Invalidate(namespace, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeItem(entryKey(namespace, key), false)
	return nil
}

// InvalidateNamespace removes every entry in a namespace.
func (t *MemoryTier) InvalidateNamespace(namespace string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := namespace + "\x00"
	for ck := range t.items {
		if strings.HasPrefix(ck, prefix) {
			t.removeItem(ck, false)
		}
	}
	return nil
}

// EvictExpired physically removes expired entries.
func (t *MemoryTier) EvictExpired() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var expiredKeys []string
	for ck, item := range t.items {
		if item.entry.Expired(now) {
			expiredKeys = append(expiredKeys, ck)
		}
	}

	for _, ck := range expiredKeys {
		t.removeItem(ck, true)
	}
	return len(expiredKeys), nil
}

// Size returns resident bytes
func (t *MemoryTier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// Stats returns a snapshot of tier counters
func (t *MemoryTier) Stats() types.TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Size = t.currentSize
	stats.Entries = int64(len(t.items))
	if t.capacity > 0 {
		stats.Utilization = float64(t.currentSize) / float64(t.capacity)
	}
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Keys returns the resident (namespace, key) pairs, for tests and debugging.
func (t *MemoryTier) Keys() [][2]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([][2]string, 0, len(t.items))
	for _, item := range t.items {
		keys = append(keys, [2]string{item.entry.Namespace, item.entry.Key})
	}
	return keys
}

// Helper methods; callers hold t.mu.

func (t *MemoryTier) removeItem(ck string, countEviction bool) {
	item, exists := t.items[ck]
	if !exists {
		return
	}

	t.evictList.Remove(item.element)
	delete(t.items, ck)
	t.currentSize -= item.entry.Size
	if countEviction {
		t.stats.Evictions++
	}
}

// evictIfNeeded removes least-recently-used entries until both the byte
// capacity and the entry budget hold. The walk is bounded by how far over
// budget the tier is, never a full scan.
func (t *MemoryTier) evictIfNeeded() {
	for (t.currentSize > t.capacity || (t.maxEntries > 0 && len(t.items) > t.maxEntries)) &&
		t.evictList.Len() > 0 {
		t.evictOldest()
	}
}

// evictOldest drops the LRU entry. When the two least-recent entries share
// a last-access timestamp the one with the lower access count goes first.
func (t *MemoryTier) evictOldest() {
	element := t.evictList.Back()
	if element == nil {
		return
	}

	victim := element
	if prev := element.Prev(); prev != nil {
		backItem := t.items[element.Value.(*listEntry).key]
		prevItem := t.items[prev.Value.(*listEntry).key]
		if backItem != nil && prevItem != nil &&
			backItem.entry.LastAccessed.Equal(prevItem.entry.LastAccessed) &&
			prevItem.entry.AccessCount < backItem.entry.AccessCount {
			victim = prev
		}
	}

	t.removeItem(victim.Value.(*listEntry).key, true)
}
