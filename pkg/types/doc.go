// Package types defines the shared data types and capability interfaces
// used across the cachekit cache hierarchy: tier identifiers, per-tier
// statistics, aggregate snapshots, and the Tier interface every cache
// layer implements.
package types
