package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/cachekit/cachekit/pkg/errors"
	"github.com/cachekit/cachekit/pkg/types"
)

const (
	locationInline  = 0
	locationPointer = 1
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	namespace     TEXT    NOT NULL,
	key           TEXT    NOT NULL,
	value         BLOB,
	size          INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	ttl_seconds   INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0,
	location      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_entries_expiry ON cache_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_ns_created ON cache_entries(namespace, created_at);
`

// StoreRecord is one row of the structured tier. Pointer records carry no
// value; they track existence and expiry of an L3-resident payload.
type StoreRecord struct {
	Namespace   string
	Key         string
	Value       []byte
	Size        int64
	CreatedAt   time.Time
	TTL         time.Duration
	AccessCount int64
	Pointer     bool
}

// ExpiredKey identifies an expired entry found by an expiry scan.
type ExpiredKey struct {
	Namespace string
	Key       string
}

var (
	_ types.Tier      = (*StoreTier)(nil)
	_ types.Sweeper   = (*StoreTier)(nil)
	_ types.Compactor = (*StoreTier)(nil)
)

// StoreTier implements the L2 tier on an embedded SQLite database. A
// successful Put is durable: visible after a crash/restart immediately
// following acknowledgment (WAL journal). I/O errors are surfaced as
// tier-unavailable, never silently dropped; after FailureThreshold
// consecutive failures the tier reports itself disabled in stats.
type StoreTier struct {
	db        *sql.DB
	path      string
	scanLimit int

	mu                  sync.Mutex
	currentSize         int64
	failureThreshold    int
	consecutiveFailures int
	stats               types.TierStats
}

// StoreTierConfig configures the L2 tier
type StoreTierConfig struct {
	Path             string
	FailureThreshold int
	ScanLimit        int
}

// NewStoreTier opens (creating if necessary) the structured tier database.
func NewStoreTier(config *StoreTierConfig) (*StoreTier, error) {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = 500
	}

	db, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRoot,
			fmt.Sprintf("opening cache database %s: %v", config.Path, err)).
			WithComponent("l2").WithCause(err)
	}
	// SQLite serializes writers; a single connection avoids busy errors
	// under concurrent foreground and maintenance traffic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, errors.NewError(errors.ErrCodeStorageRoot,
			fmt.Sprintf("initializing cache schema: %v", err)).
			WithComponent("l2").WithCause(err)
	}

	t := &StoreTier{
		db:               db,
		path:             config.Path,
		scanLimit:        config.ScanLimit,
		failureThreshold: config.FailureThreshold,
	}

	if err := t.loadSize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return t, nil
}

// GetRecord returns the row for a namespaced key, hiding expired rows
// (lazy expiry). A value hit refreshes last_accessed and access_count;
// resolving a pointer record serves no value and counts as a miss.
func (t *StoreTier) GetRecord(namespace, key string) (*StoreRecord, bool, error) {
	now := time.Now()

	row := t.db.QueryRow(`
		SELECT value, size, created_at, ttl_seconds, access_count, location
		FROM cache_entries WHERE namespace = ? AND key = ?`,
		namespace, key)

	var (
		value      []byte
		size       int64
		createdAt  int64
		ttlSeconds int64
		accessCnt  int64
		location   int
	)
	err := row.Scan(&value, &size, &createdAt, &ttlSeconds, &accessCnt, &location)
	if err == sql.ErrNoRows {
		t.recordSuccess()
		t.countMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, t.recordFailure("get", err)
	}
	t.recordSuccess()

	created := time.Unix(0, createdAt)
	if ttlSeconds > 0 && now.After(created.Add(time.Duration(ttlSeconds)*time.Second)) {
		t.countMiss()
		return nil, false, nil
	}

	pointer := location == locationPointer
	if pointer {
		t.countMiss()
	} else {
		if _, err := t.db.Exec(`
			UPDATE cache_entries SET access_count = access_count + 1, last_accessed = ?
			WHERE namespace = ? AND key = ?`,
			now.UnixNano(), namespace, key); err != nil {
			// Access bookkeeping failing does not turn a hit into a miss.
			_ = t.recordFailure("touch", err)
		}
		t.countHit()
		accessCnt++
	}

	return &StoreRecord{
		Namespace:   namespace,
		Key:         key,
		Value:       value,
		Size:        size,
		CreatedAt:   created,
		TTL:         time.Duration(ttlSeconds) * time.Second,
		AccessCount: accessCnt,
		Pointer:     pointer,
	}, true, nil
}

// Get implements types.Tier; pointer records are not value hits.
func (t *StoreTier) Get(namespace, key string) ([]byte, bool, error) {
	record, ok, err := t.GetRecord(namespace, key)
	if err != nil || !ok || record.Pointer {
		return nil, false, err
	}
	return record.Value, true, nil
}

// Put durably stores an inline value.
func (t *StoreTier) Put(namespace, key string, value []byte, ttl time.Duration) error {
	return t.putRecord(namespace, key, value, int64(len(value)), time.Now(), ttl, locationInline)
}

// PutFull stores an inline value preserving the original creation time, so
// a promotion from L3 keeps the entry's absolute expiry.
func (t *StoreTier) PutFull(namespace, key string, value []byte, createdAt time.Time, ttl time.Duration) error {
	return t.putRecord(namespace, key, value, int64(len(value)), createdAt, ttl, locationInline)
}

// PutPointer stores a lightweight existence/expiry record for an
// L3-resident payload of the given size.
func (t *StoreTier) PutPointer(namespace, key string, size int64, createdAt time.Time, ttl time.Duration) error {
	return t.putRecord(namespace, key, nil, size, createdAt, ttl, locationPointer)
}

func (t *StoreTier) putRecord(namespace, key string, value []byte, size int64,
	createdAt time.Time, ttl time.Duration, location int) error {

	tx, err := t.db.Begin()
	if err != nil {
		return t.recordFailure("put", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldSize int64
	var oldLocation int
	replaced := true
	err = tx.QueryRow(`SELECT size, location FROM cache_entries WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&oldSize, &oldLocation)
	if err == sql.ErrNoRows {
		replaced = false
	} else if err != nil {
		return t.recordFailure("put", err)
	}

	ttlSeconds := int64(ttl / time.Second)
	if ttl > 0 && ttlSeconds == 0 {
		ttlSeconds = 1 // sub-second TTLs round up rather than becoming immortal
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO cache_entries
		(namespace, key, value, size, created_at, ttl_seconds, last_accessed, access_count, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		namespace, key, value, size, createdAt.UnixNano(), ttlSeconds,
		createdAt.UnixNano(), location); err != nil {
		return t.recordFailure("put", err)
	}

	if err := tx.Commit(); err != nil {
		return t.recordFailure("put", err)
	}
	t.recordSuccess()

	t.mu.Lock()
	if replaced && oldLocation == locationInline {
		t.currentSize -= oldSize
	}
	if location == locationInline {
		t.currentSize += size
	}
	t.mu.Unlock()

	return nil
}

// Invalidate removes an entry; absent keys are not an error.
func (t *StoreTier) Invalidate(namespace, key string) error {
	return t.deleteRows("invalidate", false,
		`SELECT namespace, key, size, location FROM cache_entries WHERE namespace = ? AND key = ?`,
		namespace, key)
}

// InvalidateNamespace removes every entry in a namespace.
func (t *StoreTier) InvalidateNamespace(namespace string) error {
	return t.deleteRows("invalidate_namespace", false,
		`SELECT namespace, key, size, location FROM cache_entries WHERE namespace = ?`,
		namespace)
}

// ScanExpired returns up to limit expired keys, re-queried from current
// time; expiry is monotonic so no cursor is needed between calls.
func (t *StoreTier) ScanExpired(limit int) ([]ExpiredKey, error) {
	rows, err := t.db.Query(`
		SELECT namespace, key FROM cache_entries
		WHERE ttl_seconds > 0 AND created_at + ttl_seconds * 1000000000 <= ?
		LIMIT ?`,
		time.Now().UnixNano(), limit)
	if err != nil {
		return nil, t.recordFailure("scan_expired", err)
	}
	defer func() { _ = rows.Close() }()

	var expired []ExpiredKey
	for rows.Next() {
		var ek ExpiredKey
		if err := rows.Scan(&ek.Namespace, &ek.Key); err != nil {
			return nil, t.recordFailure("scan_expired", err)
		}
		expired = append(expired, ek)
	}
	if err := rows.Err(); err != nil {
		return nil, t.recordFailure("scan_expired", err)
	}
	t.recordSuccess()
	return expired, nil
}

// EvictExpired deletes expired rows in scan-limit batches.
func (t *StoreTier) EvictExpired() (int, error) {
	total := 0
	for {
		removed, err := t.deleteRowsCount("evict_expired", true, `
			SELECT namespace, key, size, location FROM cache_entries
			WHERE ttl_seconds > 0 AND created_at + ttl_seconds * 1000000000 <= ?
			LIMIT ?`,
			time.Now().UnixNano(), t.scanLimit)
		if err != nil {
			return total, err
		}
		total += removed
		if removed < t.scanLimit {
			return total, nil
		}
	}
}

// EnforceBudget deletes oldest inline rows one at a time until resident
// bytes fit, never overshooting past the budget.
func (t *StoreTier) EnforceBudget(budget int64) (int, error) {
	total := 0
	for t.Size() > budget {
		victims, err := t.oldestInline(t.scanLimit)
		if err != nil {
			return total, err
		}
		if len(victims) == 0 {
			return total, nil
		}
		for _, v := range victims {
			if t.Size() <= budget {
				return total, nil
			}
			removed, err := t.deleteRowsCount("enforce_budget", true,
				`SELECT namespace, key, size, location FROM cache_entries
				 WHERE namespace = ? AND key = ?`,
				v.Namespace, v.Key)
			if err != nil {
				return total, err
			}
			total += removed
		}
	}
	return total, nil
}

// oldestInline returns up to limit inline rows, oldest creation first.
func (t *StoreTier) oldestInline(limit int) ([]ExpiredKey, error) {
	rows, err := t.db.Query(`
		SELECT namespace, key FROM cache_entries
		WHERE location = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, t.recordFailure("enforce_budget", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []ExpiredKey
	for rows.Next() {
		var k ExpiredKey
		if err := rows.Scan(&k.Namespace, &k.Key); err != nil {
			return nil, t.recordFailure("enforce_budget", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Compact reclaims WAL space and refreshes the query planner statistics.
func (t *StoreTier) Compact() error {
	if _, err := t.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return t.recordFailure("compact", err)
	}
	if _, err := t.db.Exec(`PRAGMA optimize`); err != nil {
		return t.recordFailure("compact", err)
	}
	t.recordSuccess()
	return nil
}

// Size returns resident inline bytes
func (t *StoreTier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// Stats returns a snapshot of tier counters
func (t *StoreTier) Stats() types.TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Size = t.currentSize
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Disabled reports whether the failure threshold has been crossed.
func (t *StoreTier) Disabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.Disabled
}

// Close closes the underlying database.
func (t *StoreTier) Close() error {
	return t.db.Close()
}

// Helper methods

// deleteRows removes the rows selected by query, adjusting resident size.
func (t *StoreTier) deleteRows(op string, countEvictions bool, query string, args ...interface{}) error {
	_, err := t.deleteRowsCount(op, countEvictions, query, args...)
	return err
}

func (t *StoreTier) deleteRowsCount(op string, countEvictions bool, query string, args ...interface{}) (int, error) {
	tx, err := t.db.Begin()
	if err != nil {
		return 0, t.recordFailure(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(query, args...)
	if err != nil {
		return 0, t.recordFailure(op, err)
	}

	type victim struct {
		namespace, key string
		size           int64
		location       int
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.namespace, &v.key, &v.size, &v.location); err != nil {
			_ = rows.Close()
			return 0, t.recordFailure(op, err)
		}
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, t.recordFailure(op, err)
	}
	_ = rows.Close()

	var freed int64
	for _, v := range victims {
		if _, err := tx.Exec(`DELETE FROM cache_entries WHERE namespace = ? AND key = ?`,
			v.namespace, v.key); err != nil {
			return 0, t.recordFailure(op, err)
		}
		if v.location == locationInline {
			freed += v.size
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, t.recordFailure(op, err)
	}
	t.recordSuccess()

	t.mu.Lock()
	t.currentSize -= freed
	if countEvictions {
		t.stats.Evictions += uint64(len(victims))
	}
	t.mu.Unlock()

	return len(victims), nil
}

func (t *StoreTier) loadSize() error {
	var size int64
	err := t.db.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM cache_entries WHERE location = 0`).
		Scan(&size)
	if err != nil {
		return errors.NewError(errors.ErrCodeStorageRoot,
			fmt.Sprintf("loading resident size: %v", err)).
			WithComponent("l2").WithCause(err)
	}
	t.mu.Lock()
	t.currentSize = size
	t.mu.Unlock()
	return nil
}

func (t *StoreTier) recordFailure(op string, cause error) error {
	t.mu.Lock()
	t.consecutiveFailures++
	t.stats.Unavailable++
	if t.consecutiveFailures >= t.failureThreshold {
		t.stats.Disabled = true
	}
	t.mu.Unlock()

	return errors.NewError(errors.ErrCodeTierUnavailable,
		fmt.Sprintf("sqlite %s failed: %v", op, cause)).
		WithComponent("l2").WithOperation(op).WithCause(cause)
}

func (t *StoreTier) recordSuccess() {
	t.mu.Lock()
	t.consecutiveFailures = 0
	t.stats.Disabled = false
	t.mu.Unlock()
}

func (t *StoreTier) countHit() {
	t.mu.Lock()
	t.stats.Hits++
	t.mu.Unlock()
}

func (t *StoreTier) countMiss() {
	t.mu.Lock()
	t.stats.Misses++
	t.mu.Unlock()
}
