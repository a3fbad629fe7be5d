package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cachekit/cachekit/pkg/errors"
	"github.com/cachekit/cachekit/pkg/types"
)

// Entry is the common unit of cached data and its metadata. Tiers store
// their own physical representation of the value; expiry policy is always
// decided by the coordinator and the maintenance daemon, never by a tier.
type Entry struct {
	Namespace    string
	Key          string
	Value        []byte
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	TTL          time.Duration
	AccessCount  int64
	Tier         types.TierName
}

// NewEntry constructs an entry from a raw value with an optional TTL.
// A zero TTL means the entry never expires by age.
func NewEntry(namespace, key string, value []byte, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Namespace:    namespace,
		Key:          key,
		Value:        value,
		Size:         int64(len(value)),
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
	}
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// ExpiresAt returns the absolute expiry time, ok=false for immortal entries.
func (e *Entry) ExpiresAt() (time.Time, bool) {
	if e.TTL <= 0 {
		return time.Time{}, false
	}
	return e.CreatedAt.Add(e.TTL), true
}

// RemainingTTL returns the TTL an entry should carry when copied into
// another tier so that its absolute expiry is preserved. ok=false means
// the entry is already expired and must not be copied.
func (e *Entry) RemainingTTL(now time.Time) (time.Duration, bool) {
	if e.TTL <= 0 {
		return 0, true
	}
	remaining := e.CreatedAt.Add(e.TTL).Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// entryKey builds the composite tier-internal key. The NUL separator keeps
// distinct (namespace, key) pairs from colliding.
func entryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// hashedName returns the deterministic file name stem used by the file
// tier, avoiding filesystem path-length and character issues.
func hashedName(namespace, key string) string {
	sum := sha256.Sum256([]byte(entryKey(namespace, key)))
	return hex.EncodeToString(sum[:12])
}

// checksum returns the hex sha256 of a payload.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sidecarRecord is the JSON metadata stored next to each file-tier payload.
// Raw file mtimes are not a portable expiry signal, so expiry metadata
// always lives here.
type sidecarRecord struct {
	Namespace  string `json:"namespace"`
	Key        string `json:"key"`
	CreatedAt  int64  `json:"created_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
}

func (r *sidecarRecord) created() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

func (r *sidecarRecord) ttl() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

func (r *sidecarRecord) expired(now time.Time) bool {
	if r.TTLSeconds <= 0 {
		return false
	}
	return now.After(r.created().Add(r.ttl()))
}

func encodeSidecar(r *sidecarRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeSerializationFailed,
			fmt.Sprintf("encoding sidecar for %s/%s: %v", r.Namespace, r.Key, err)).
			WithComponent("l3").WithCause(err)
	}
	return data, nil
}

func decodeSidecar(data []byte) (*sidecarRecord, error) {
	var r sidecarRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.NewError(errors.ErrCodeSerializationFailed,
			fmt.Sprintf("decoding sidecar: %v", err)).
			WithComponent("l3").WithCause(err)
	}
	if r.Namespace == "" || r.Key == "" {
		return nil, errors.NewError(errors.ErrCodeSerializationFailed,
			"sidecar missing namespace or key").WithComponent("l3")
	}
	return &r, nil
}
