/*
Package cache implements the multi-level cache behind cachekit: a volatile
in-memory L1, a durable embedded SQLite L2, and a file-per-entry L3 for
large payloads, coordinated behind a single namespaced key-value surface.

# Architecture

	┌──────────────────────────────┐
	│          Manager             │  Get / Put / Invalidate / Stats
	└──────────────────────────────┘
	     │            │          │
	┌─────────┐  ┌─────────┐  ┌─────────┐
	│ L1      │  │ L2      │  │ L3      │
	│ memory  │  │ sqlite  │  │ files   │
	│ LRU     │  │ WAL     │  │ sidecar │
	└─────────┘  └─────────┘  └─────────┘

Lookups walk L1, L2, L3 in order; a lower-tier hit is promoted upward with
its absolute expiry preserved. Puts are placed by value size: small values
are written through to L1 and L2, mid-size values live in L2 only, and
large values go to L3 with an existence record in L2.

# Expiry

The read path hides expired entries but never removes them (lazy expiry).
Physical removal is the maintenance Daemon's job: on a fixed interval it
sweeps expired entries from each tier, brings L2 and L3 back under their
byte budgets oldest-first, and compacts the store. L1 capacity is the one
exception, enforced synchronously inside Put so resident bytes never
exceed the configured limit.

# Degradation

L2 and L3 are best-effort. An I/O failure drops the affected write with a
logged warning, counts toward a consecutive-failure threshold, and once
the threshold is crossed the tier reports itself disabled in stats. L1
keeps serving regardless.

# Usage

	cfg := config.NewDefault()
	cfg.Global.StorageRoot = "/var/cache/cachekit"

	manager, err := cache.NewManager(cfg, logger, collector)
	if err != nil {
		log.Fatal(err)
	}
	defer manager.Close()

	_ = manager.Put("items", "red-potion", payload, 0) // namespace TTL
	value, ok, _ := manager.Get("items", "red-potion")

	daemon := cache.NewDaemon(manager, logger, collector)
	_ = daemon.Start(ctx)
	defer daemon.Stop()
*/
package cache
