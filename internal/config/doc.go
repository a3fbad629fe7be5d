// Package config defines the cachekit configuration model: per-tier
// capacities and byte budgets, value-size placement thresholds, default
// and per-namespace TTLs, maintenance scheduling, and monitoring settings.
// Configuration is loaded from YAML with CACHEKIT_* environment overrides
// and validated before the cache manager is constructed.
package config
