package types

import "time"

// Tier defines the capability interface each cache layer implements.
// The coordinator is agnostic to the storage technology behind a tier;
// tiers own their physical representation but never decide expiry policy.
type Tier interface {
	// Get returns the value for a namespaced key. ok is false on a miss,
	// including entries hidden by lazy expiry. err reports storage failures
	// only, never misses.
	Get(namespace, key string) (value []byte, ok bool, err error)

	// Put inserts or replaces an entry. Implementations enforce their own
	// capacity discipline before returning.
	Put(namespace, key string, value []byte, ttl time.Duration) error

	// Invalidate removes an entry. Removing an absent key is not an error.
	Invalidate(namespace, key string) error

	// InvalidateNamespace removes every entry in a namespace.
	InvalidateNamespace(namespace string) error

	// EvictExpired physically removes expired entries and returns how many
	// were removed. Called by the maintenance daemon, not on the read path.
	EvictExpired() (int, error)

	// Size returns the resident bytes held by the tier.
	Size() int64

	// Stats returns a snapshot of the tier's counters.
	Stats() TierStats
}

// Sweeper is implemented by durable tiers whose aggregate byte budget is
// enforced by the maintenance daemon rather than on the write path.
type Sweeper interface {
	// EnforceBudget deletes oldest entries until resident size is at or
	// under budget, returning the number deleted.
	EnforceBudget(budget int64) (int, error)
}

// Compactor is implemented by tiers that can reclaim dead space.
type Compactor interface {
	Compact() error
}
