package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cachekit/cachekit/internal/config"
	"github.com/cachekit/cachekit/internal/metrics"
	"github.com/cachekit/cachekit/pkg/errors"
	"github.com/cachekit/cachekit/pkg/retry"
	"github.com/cachekit/cachekit/pkg/types"
	"github.com/cachekit/cachekit/pkg/utils"
)

const keyStripes = 64

// Manager coordinates the three tiers behind a single namespaced
// key-value surface. Lookups walk L1, L2, L3 in order and promote hits
// upward; puts are placed by value size against the configured
// thresholds. A failing L2 or L3 degrades the cache rather than halting
// it: the affected write is dropped with a warning and L1 keeps serving.
type Manager struct {
	config  *config.Configuration
	logger  *utils.StructuredLogger
	metrics *metrics.Collector

	memory *MemoryTier
	store  *StoreTier
	file   *FileTier

	memoryThreshold int64
	fileThreshold   int64
	memoryCapacity  int64
	promoteFull     bool

	// retrier absorbs transient I/O hiccups on durable writes before a
	// write is declared dropped.
	retrier *retry.Retryer

	// keyLocks serialize promotion against invalidation for a key. Tier
	// I/O runs under the stripe lock but never under a tier's own lock.
	keyLocks [keyStripes]sync.Mutex

	mu          sync.Mutex
	closed      bool
	totalHits   uint64
	totalMisses uint64
}

// NewManager constructs the tier coordinator. An unusable storage root is
// fatal; a tier database or directory that fails to open only disables
// that tier.
func NewManager(cfg *config.Configuration, logger *utils.StructuredLogger,
	collector *metrics.Collector) (*Manager, error) {

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, err.Error()).
			WithComponent("manager").WithCause(err)
	}
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	if collector == nil {
		var err error
		collector, err = metrics.NewCollector(&metrics.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
	}

	storageRoot, err := cfg.StorageRootPath()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRoot, err.Error()).
			WithComponent("manager").WithCause(err)
	}
	if err := os.MkdirAll(storageRoot, 0755); err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRoot,
			fmt.Sprintf("creating storage root %s: %v", storageRoot, err)).
			WithComponent("manager").WithCause(err)
	}

	memCap, _ := cfg.MemoryCapacityBytes()
	memThreshold, _ := cfg.MemoryThresholdBytes()
	fileThreshold, _ := cfg.FileThresholdBytes()

	m := &Manager{
		config:  cfg,
		logger:  logger.WithComponent("cache"),
		metrics: collector,
		memory: NewMemoryTier(&MemoryTierConfig{
			Capacity:   memCap,
			MaxEntries: cfg.Tiers.Memory.MaxEntries,
		}),
		memoryThreshold: memThreshold,
		fileThreshold:   fileThreshold,
		memoryCapacity:  memCap,
		promoteFull:     cfg.Placement.PromotionPolicy == "full",
		retrier:         retry.New(retry.DefaultConfig()),
	}

	if cfg.Tiers.Store.Enabled {
		store, err := NewStoreTier(&StoreTierConfig{
			Path:             filepath.Join(storageRoot, "cache.db"),
			FailureThreshold: cfg.Tiers.Store.FailureThreshold,
			ScanLimit:        cfg.Maintenance.ScanLimit,
		})
		if err != nil {
			m.logger.Warn("structured tier unavailable, continuing without it",
				map[string]interface{}{"error": err.Error()})
		} else {
			m.store = store
		}
	}

	if cfg.Tiers.File.Enabled {
		file, err := NewFileTier(&FileTierConfig{
			Dir:              filepath.Join(storageRoot, "files"),
			Compression:      cfg.Tiers.File.Compression,
			FailureThreshold: cfg.Tiers.Store.FailureThreshold,
		})
		if err != nil {
			m.logger.Warn("file tier unavailable, continuing without it",
				map[string]interface{}{"error": err.Error()})
		} else {
			m.file = file
		}
	}

	m.logger.Info("cache manager started", map[string]interface{}{
		"storage_root":   storageRoot,
		"memory_cap":     utils.FormatBytes(memCap),
		"store_enabled":  m.store != nil,
		"file_enabled":   m.file != nil,
		"promote_policy": cfg.Placement.PromotionPolicy,
	})

	return m, nil
}

// Get looks a key up tier by tier, promoting a lower-tier hit upward.
// A tier I/O error is logged and treated as a miss for that tier.
func (m *Manager) Get(namespace, key string) ([]byte, bool, error) {
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	lock := m.keyLock(namespace, key)
	lock.Lock()
	defer lock.Unlock()

	// L1
	if value, ok, _ := m.memory.Get(namespace, key); ok {
		m.metrics.RecordHit(types.TierMemory)
		m.countLookup(true)
		return value, true, nil
	}
	m.metrics.RecordMiss(types.TierMemory)

	// L2
	if m.store != nil {
		record, ok, err := m.store.GetRecord(namespace, key)
		if err != nil {
			m.tierError(types.TierStore, "get", err)
		} else if ok && !record.Pointer {
			m.metrics.RecordHit(types.TierStore)
			m.promoteToMemory(namespace, key, record.Value, record.CreatedAt, record.TTL)
			m.countLookup(true)
			return record.Value, true, nil
		} else {
			m.metrics.RecordMiss(types.TierStore)
		}
	}

	// L3
	if m.file != nil {
		entry, ok, err := m.file.GetEntry(namespace, key)
		if err != nil {
			m.tierError(types.TierFile, "get", err)
		} else if ok {
			m.metrics.RecordHit(types.TierFile)
			m.promoteFromFile(entry)
			m.countLookup(true)
			return entry.Value, true, nil
		} else {
			m.metrics.RecordMiss(types.TierFile)
		}
	}

	m.countLookup(false)
	return nil, false, nil
}

// Put stores a value, placed by size: below the memory threshold it is
// written through to L1 and L2, below the file threshold to L2 only,
// and at or above it to L3 with an existence record in L2. A zero TTL
// selects the namespace default.
func (m *Manager) Put(namespace, key string, value []byte, ttl time.Duration) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.config.TTLFor(namespace)
	}

	lock := m.keyLock(namespace, key)
	lock.Lock()
	defer lock.Unlock()

	size := int64(len(value))
	switch {
	case size < m.memoryThreshold:
		_ = m.memory.Put(namespace, key, value, ttl)
		if m.store != nil {
			err := m.retrier.Do(func() error {
				return m.store.Put(namespace, key, value, ttl)
			})
			if err != nil {
				m.tierError(types.TierStore, "put", err)
			}
		}
		m.dropFileCopy(namespace, key)

	case size < m.fileThreshold:
		_ = m.memory.Invalidate(namespace, key)
		if m.store == nil {
			return errors.NewError(errors.ErrCodeTierUnavailable,
				"structured tier disabled, value too large for memory write-through").
				WithComponent("manager").WithOperation("put")
		}
		err := m.retrier.Do(func() error {
			return m.store.Put(namespace, key, value, ttl)
		})
		if err != nil {
			m.tierError(types.TierStore, "put", err)
			return err
		}
		m.dropFileCopy(namespace, key)

	default:
		_ = m.memory.Invalidate(namespace, key)
		if m.file == nil {
			return errors.NewError(errors.ErrCodeTierUnavailable,
				"file tier disabled, cannot store large value").
				WithComponent("manager").WithOperation("put")
		}
		now := time.Now()
		err := m.retrier.Do(func() error {
			return m.file.PutAt(namespace, key, value, now, ttl)
		})
		if err != nil {
			m.tierError(types.TierFile, "put", err)
			return err
		}
		if m.store != nil {
			err := m.retrier.Do(func() error {
				return m.store.PutPointer(namespace, key, size, now, ttl)
			})
			if err != nil {
				m.tierError(types.TierStore, "put_pointer", err)
			}
		}
	}

	return nil
}

// Invalidate removes a key from every tier. Absent keys are not an error.
func (m *Manager) Invalidate(namespace, key string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	lock := m.keyLock(namespace, key)
	lock.Lock()
	defer lock.Unlock()

	var firstErr error
	_ = m.memory.Invalidate(namespace, key)
	if m.store != nil {
		if err := m.store.Invalidate(namespace, key); err != nil {
			m.tierError(types.TierStore, "invalidate", err)
			firstErr = err
		}
	}
	if m.file != nil {
		if err := m.file.Invalidate(namespace, key); err != nil {
			m.tierError(types.TierFile, "invalidate", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// InvalidateNamespace removes every key in a namespace from every tier.
func (m *Manager) InvalidateNamespace(namespace string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	// Hold every stripe so no promotion resurrects a dropped key mid-sweep.
	for i := range m.keyLocks {
		m.keyLocks[i].Lock()
	}
	defer func() {
		for i := range m.keyLocks {
			m.keyLocks[i].Unlock()
		}
	}()

	var firstErr error
	_ = m.memory.InvalidateNamespace(namespace)
	if m.store != nil {
		if err := m.store.InvalidateNamespace(namespace); err != nil {
			m.tierError(types.TierStore, "invalidate_namespace", err)
			firstErr = err
		}
	}
	if m.file != nil {
		if err := m.file.InvalidateNamespace(namespace); err != nil {
			m.tierError(types.TierFile, "invalidate_namespace", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stats returns a point-in-time snapshot across tiers.
func (m *Manager) Stats() types.StatsSnapshot {
	snapshot := types.StatsSnapshot{
		Tiers: make(map[types.TierName]types.TierStats),
	}

	snapshot.Tiers[types.TierMemory] = m.memory.Stats()
	m.metrics.UpdateTier(types.TierMemory, snapshot.Tiers[types.TierMemory])
	if m.store != nil {
		snapshot.Tiers[types.TierStore] = m.store.Stats()
		m.metrics.UpdateTier(types.TierStore, snapshot.Tiers[types.TierStore])
	}
	if m.file != nil {
		snapshot.Tiers[types.TierFile] = m.file.Stats()
		m.metrics.UpdateTier(types.TierFile, snapshot.Tiers[types.TierFile])
	}

	m.mu.Lock()
	snapshot.TotalHits = m.totalHits
	snapshot.TotalMisses = m.totalMisses
	m.mu.Unlock()

	total := snapshot.TotalHits + snapshot.TotalMisses
	if total > 0 {
		snapshot.OverallHitRatio = float64(snapshot.TotalHits) / float64(total)
	}
	return snapshot
}

// SweepExpired physically removes expired entries from each tier,
// checking for cancellation between tiers.
func (m *Manager) SweepExpired(ctx context.Context) (map[types.TierName]int, error) {
	removed := make(map[types.TierName]int)

	n, _ := m.memory.EvictExpired()
	removed[types.TierMemory] = n
	m.metrics.RecordEviction(types.TierMemory, "expired", n)

	if err := ctx.Err(); err != nil {
		return removed, err
	}
	if m.store != nil {
		n, err := m.store.EvictExpired()
		removed[types.TierStore] = n
		m.metrics.RecordEviction(types.TierStore, "expired", n)
		if err != nil {
			m.tierError(types.TierStore, "sweep", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return removed, err
	}
	if m.file != nil {
		n, err := m.file.EvictExpired()
		removed[types.TierFile] = n
		m.metrics.RecordEviction(types.TierFile, "expired", n)
		if err != nil {
			m.tierError(types.TierFile, "sweep", err)
		}
	}

	return removed, nil
}

// EnforceBudgets brings L2 and L3 back under their byte budgets, oldest
// entries first. L1 enforces its own capacity synchronously on Put.
func (m *Manager) EnforceBudgets(ctx context.Context) (map[types.TierName]int, error) {
	removed := make(map[types.TierName]int)

	if m.store != nil {
		budget, err := m.config.StoreMaxBytes()
		if err == nil {
			n, err := m.store.EnforceBudget(budget)
			removed[types.TierStore] = n
			m.metrics.RecordEviction(types.TierStore, "capacity", n)
			if err != nil {
				m.tierError(types.TierStore, "enforce_budget", err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return removed, err
	}
	if m.file != nil {
		budget, err := m.config.FileMaxBytes()
		if err == nil {
			n, err := m.file.EnforceBudget(budget)
			removed[types.TierFile] = n
			m.metrics.RecordEviction(types.TierFile, "capacity", n)
			if err != nil {
				m.tierError(types.TierFile, "enforce_budget", err)
			}
		}
	}

	return removed, nil
}

// CompactStore reclaims space in the structured tier.
func (m *Manager) CompactStore() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Compact(); err != nil {
		m.tierError(types.TierStore, "compact", err)
		return err
	}
	return nil
}

// Close releases tier resources. Further operations return a closed error.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// Helper methods

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NewError(errors.ErrCodeClosed, "cache manager is closed").
			WithComponent("manager")
	}
	return nil
}

func (m *Manager) keyLock(namespace, key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entryKey(namespace, key)))
	return &m.keyLocks[h.Sum32()%keyStripes]
}

func (m *Manager) countLookup(hit bool) {
	m.mu.Lock()
	if hit {
		m.totalHits++
	} else {
		m.totalMisses++
	}
	m.mu.Unlock()
}

func (m *Manager) tierError(tier types.TierName, op string, err error) {
	m.metrics.RecordUnavailable(tier)
	m.logger.Warn("tier operation failed", map[string]interface{}{
		"tier":      string(tier),
		"operation": op,
		"error":     err.Error(),
	})
}

// promoteToMemory copies a lower-tier hit into L1, carrying the remaining
// TTL so the absolute expiry holds. Only L1's capacity gates promotion;
// the placement thresholds apply to puts, not to read-path promotion.
func (m *Manager) promoteToMemory(namespace, key string, value []byte, createdAt time.Time, ttl time.Duration) {
	if m.memoryCapacity > 0 && int64(len(value)) > m.memoryCapacity {
		return
	}
	entry := &Entry{CreatedAt: createdAt, TTL: ttl}
	remaining, ok := entry.RemainingTTL(time.Now())
	if !ok {
		return
	}
	_ = m.memory.Put(namespace, key, value, remaining)
}

// promoteFromFile records an L3 hit in the upper tiers per the promotion
// policy: a pointer record keeps L2 small, a full copy makes the next
// lookup cheaper.
func (m *Manager) promoteFromFile(entry *Entry) {
	m.promoteToMemory(entry.Namespace, entry.Key, entry.Value, entry.CreatedAt, entry.TTL)

	if m.store == nil {
		return
	}
	if m.promoteFull && entry.Size < m.fileThreshold {
		if err := m.store.PutFull(entry.Namespace, entry.Key, entry.Value, entry.CreatedAt, entry.TTL); err != nil {
			m.tierError(types.TierStore, "promote", err)
		}
		return
	}
	if err := m.store.PutPointer(entry.Namespace, entry.Key, entry.Size, entry.CreatedAt, entry.TTL); err != nil {
		m.tierError(types.TierStore, "promote", err)
	}
}

// dropFileCopy removes a stale L3 copy after a put landed in upper tiers.
func (m *Manager) dropFileCopy(namespace, key string) {
	if m.file == nil {
		return
	}
	if err := m.file.Invalidate(namespace, key); err != nil {
		m.tierError(types.TierFile, "invalidate", err)
	}
}
