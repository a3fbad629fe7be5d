// Package metrics exposes cache activity as Prometheus metrics: lookup
// results, evictions, resident bytes and entries per tier, tier I/O
// failures, and maintenance cycle durations. The collector serves its own
// registry over HTTP and degrades to a no-op when monitoring is disabled.
package metrics
