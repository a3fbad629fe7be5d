package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cachekit/cachekit/pkg/errors"
	"github.com/cachekit/cachekit/pkg/types"
)

const (
	payloadSuffix = ".cache"
	sidecarSuffix = ".meta"
	tmpSuffix     = ".tmp"
)

var (
	_ types.Tier    = (*FileTier)(nil)
	_ types.Sweeper = (*FileTier)(nil)
)

// FileTier implements the L3 tier: one payload file per entry plus a JSON
// metadata sidecar. Writes are atomic (temp file then rename, payload
// before sidecar) so a crash mid-write leaves either the old entry or no
// entry, never a torn one. An in-memory index built from the sidecars at
// startup keeps reads and scans off the directory listing.
type FileTier struct {
	dir      string
	compress bool

	mu                  sync.Mutex
	index               map[string]*fileItem
	currentSize         int64
	failureThreshold    int
	consecutiveFailures int
	stats               types.TierStats
}

// fileItem is one indexed entry; base is the hashed file name stem.
type fileItem struct {
	record *sidecarRecord
	base   string
}

// FileTierConfig configures the L3 tier
type FileTierConfig struct {
	Dir              string
	Compression      bool
	FailureThreshold int
}

// NewFileTier creates the file tier rooted at config.Dir, creating the
// directory and rebuilding the index from existing sidecars. Sidecars
// that fail to decode are discarded along with their payloads.
func NewFileTier(config *FileTierConfig) (*FileTier, error) {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRoot,
			fmt.Sprintf("creating file tier directory %s: %v", config.Dir, err)).
			WithComponent("l3").WithCause(err)
	}

	t := &FileTier{
		dir:              config.Dir,
		compress:         config.Compression,
		index:            make(map[string]*fileItem),
		failureThreshold: config.FailureThreshold,
	}

	if err := t.loadIndex(); err != nil {
		return nil, err
	}
	return t, nil
}

// GetEntry returns the entry for a namespaced key with its surviving
// metadata, hiding expired entries. A checksum mismatch evicts the entry
// and reports it; the caller treats that as a tier miss.
func (t *FileTier) GetEntry(namespace, key string) (*Entry, bool, error) {
	ck := entryKey(namespace, key)

	t.mu.Lock()
	item, exists := t.index[ck]
	if !exists || item.record.expired(time.Now()) {
		t.stats.Misses++
		t.mu.Unlock()
		return nil, false, nil
	}
	record := *item.record
	base := item.base
	t.mu.Unlock()

	stored, err := os.ReadFile(t.payloadPath(base))
	if err != nil {
		if os.IsNotExist(err) {
			// Sidecar without payload, clean up the orphan.
			_ = t.Invalidate(namespace, key)
			t.countMiss()
			return nil, false, nil
		}
		t.countMiss()
		return nil, false, t.recordFailure("get", err)
	}
	t.recordSuccess()

	if checksum(stored) != record.Checksum {
		_ = t.Invalidate(namespace, key)
		t.countMiss()
		return nil, false, errors.NewError(errors.ErrCodeChecksumMismatch,
			fmt.Sprintf("payload checksum mismatch for %s/%s, entry evicted", namespace, key)).
			WithComponent("l3").WithOperation("get")
	}

	value := stored
	if record.Compressed {
		value, err = gunzip(stored)
		if err != nil {
			_ = t.Invalidate(namespace, key)
			t.countMiss()
			return nil, false, err
		}
	}

	t.countHit()
	return &Entry{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		Size:      int64(len(value)),
		CreatedAt: record.created(),
		TTL:       record.ttl(),
		Tier:      types.TierFile,
	}, true, nil
}

// Get implements types.Tier.
func (t *FileTier) Get(namespace, key string) ([]byte, bool, error) {
	entry, ok, err := t.GetEntry(namespace, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// Put atomically stores a value and its sidecar.
func (t *FileTier) Put(namespace, key string, value []byte, ttl time.Duration) error {
	return t.PutAt(namespace, key, value, time.Now(), ttl)
}

// PutAt stores a value preserving an explicit creation time, so demotions
// between tiers keep the entry's absolute expiry.
func (t *FileTier) PutAt(namespace, key string, value []byte, createdAt time.Time, ttl time.Duration) error {
	stored := value
	compressed := false
	if t.compress {
		if gz, err := gzipBytes(value); err == nil && len(gz) < len(value) {
			stored = gz
			compressed = true
		}
	}

	record := &sidecarRecord{
		Namespace:  namespace,
		Key:        key,
		CreatedAt:  createdAt.Unix(),
		TTLSeconds: ttlSeconds(ttl),
		Size:       int64(len(stored)),
		Checksum:   checksum(stored),
		Compressed: compressed,
	}
	meta, err := encodeSidecar(record)
	if err != nil {
		return err
	}

	base := hashedName(namespace, key)
	if err := t.writeAtomic(t.payloadPath(base), stored); err != nil {
		return t.recordFailure("put", err)
	}
	if err := t.writeAtomic(t.sidecarPath(base), meta); err != nil {
		// Keep the tree consistent: no sidecar means no entry.
		_ = os.Remove(t.payloadPath(base))
		return t.recordFailure("put", err)
	}
	t.recordSuccess()

	ck := entryKey(namespace, key)
	t.mu.Lock()
	if old, exists := t.index[ck]; exists {
		t.currentSize -= old.record.Size
	}
	t.index[ck] = &fileItem{record: record, base: base}
	t.currentSize += record.Size
	t.mu.Unlock()

	return nil
}

// Invalidate removes an entry; absent keys are not an error.
func (t *FileTier) Invalidate(namespace, key string) error {
	return t.remove(entryKey(namespace, key), false)
}

// InvalidateNamespace removes every entry in a namespace.
func (t *FileTier) InvalidateNamespace(namespace string) error {
	t.mu.Lock()
	var victims []string
	for ck, item := range t.index {
		if item.record.Namespace == namespace {
			victims = append(victims, ck)
		}
	}
	t.mu.Unlock()

	for _, ck := range victims {
		if err := t.remove(ck, false); err != nil {
			return err
		}
	}
	return nil
}

// EvictExpired physically removes expired entries and their files.
func (t *FileTier) EvictExpired() (int, error) {
	now := time.Now()
	t.mu.Lock()
	var victims []string
	for ck, item := range t.index {
		if item.record.expired(now) {
			victims = append(victims, ck)
		}
	}
	t.mu.Unlock()

	removed := 0
	for _, ck := range victims {
		if err := t.remove(ck, true); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// EnforceBudget removes oldest entries by creation time until resident
// bytes fit the budget.
func (t *FileTier) EnforceBudget(budget int64) (int, error) {
	t.mu.Lock()
	type aged struct {
		ck      string
		created int64
	}
	entries := make([]aged, 0, len(t.index))
	for ck, item := range t.index {
		entries = append(entries, aged{ck: ck, created: item.record.CreatedAt})
	}
	over := t.currentSize - budget
	t.mu.Unlock()

	if over <= 0 {
		return 0, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created < entries[j].created })

	removed := 0
	for _, e := range entries {
		if t.Size() <= budget {
			break
		}
		if err := t.remove(e.ck, true); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Size returns resident bytes on disk
func (t *FileTier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// Stats returns a snapshot of tier counters
func (t *FileTier) Stats() types.TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Size = t.currentSize
	stats.Entries = int64(len(t.index))
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Disabled reports whether the failure threshold has been crossed.
func (t *FileTier) Disabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Disabled
}

// Helper methods

func (t *FileTier) payloadPath(base string) string {
	return filepath.Join(t.dir, base+payloadSuffix)
}

func (t *FileTier) sidecarPath(base string) string {
	return filepath.Join(t.dir, base+sidecarSuffix)
}

// writeAtomic writes data to a temp file in the same directory and renames
// it into place.
func (t *FileTier) writeAtomic(path string, data []byte) error {
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// remove drops an entry from the index and deletes its files, sidecar
// first so a partial failure cannot resurrect the entry at startup.
func (t *FileTier) remove(ck string, countEviction bool) error {
	t.mu.Lock()
	item, exists := t.index[ck]
	if !exists {
		t.mu.Unlock()
		return nil
	}
	delete(t.index, ck)
	t.currentSize -= item.record.Size
	if countEviction {
		t.stats.Evictions++
	}
	base := item.base
	t.mu.Unlock()

	if err := os.Remove(t.sidecarPath(base)); err != nil && !os.IsNotExist(err) {
		return t.recordFailure("remove", err)
	}
	if err := os.Remove(t.payloadPath(base)); err != nil && !os.IsNotExist(err) {
		return t.recordFailure("remove", err)
	}
	t.recordSuccess()
	return nil
}

// loadIndex rebuilds the in-memory index from sidecar files. Undecodable
// sidecars and leftover temp files are removed.
func (t *FileTier) loadIndex() error {
	names, err := filepath.Glob(filepath.Join(t.dir, "*"+sidecarSuffix))
	if err != nil {
		return errors.NewError(errors.ErrCodeStorageRoot,
			fmt.Sprintf("scanning file tier directory: %v", err)).
			WithComponent("l3").WithCause(err)
	}

	tmps, _ := filepath.Glob(filepath.Join(t.dir, "*"+tmpSuffix))
	for _, tmp := range tmps {
		_ = os.Remove(tmp)
	}

	for _, path := range names {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		record, err := decodeSidecar(data)
		if err != nil {
			base := filepath.Base(path)
			base = base[:len(base)-len(sidecarSuffix)]
			_ = os.Remove(path)
			_ = os.Remove(t.payloadPath(base))
			continue
		}
		base := filepath.Base(path)
		base = base[:len(base)-len(sidecarSuffix)]
		t.index[entryKey(record.Namespace, record.Key)] = &fileItem{record: record, base: base}
		t.currentSize += record.Size
	}
	return nil
}

func (t *FileTier) recordFailure(op string, cause error) error {
	t.mu.Lock()
	t.consecutiveFailures++
	t.stats.Unavailable++
	if t.consecutiveFailures >= t.failureThreshold {
		t.stats.Disabled = true
	}
	t.mu.Unlock()

	return errors.NewError(errors.ErrCodeTierUnavailable,
		fmt.Sprintf("file tier %s failed: %v", op, cause)).
		WithComponent("l3").WithOperation(op).WithCause(cause)
}

func (t *FileTier) recordSuccess() {
	t.mu.Lock()
	t.consecutiveFailures = 0
	t.stats.Disabled = false
	t.mu.Unlock()
}

func (t *FileTier) countHit() {
	t.mu.Lock()
	t.stats.Hits++
	t.mu.Unlock()
}

func (t *FileTier) countMiss() {
	t.mu.Lock()
	t.stats.Misses++
	t.mu.Unlock()
}

// ttlSeconds rounds a TTL up to whole seconds for sidecar storage.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if time.Duration(secs)*time.Second < ttl {
		secs++
	}
	return secs
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSerializationFailed,
			fmt.Sprintf("decompressing payload: %v", err)).
			WithComponent("l3").WithCause(err)
	}
	defer func() { _ = r.Close() }()

	value, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSerializationFailed,
			fmt.Sprintf("decompressing payload: %v", err)).
			WithComponent("l3").WithCause(err)
	}
	return value, nil
}
