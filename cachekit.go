// Package cachekit is an embeddable multi-level cache for game-server
// admin tooling: a volatile in-memory tier, a durable embedded SQLite
// tier, and a file tier for large payloads, with TTL expiry, size-based
// placement, and a background maintenance daemon.
package cachekit

import (
	"context"
	"time"

	"github.com/cachekit/cachekit/internal/cache"
	"github.com/cachekit/cachekit/internal/config"
	"github.com/cachekit/cachekit/internal/metrics"
	"github.com/cachekit/cachekit/pkg/types"
	"github.com/cachekit/cachekit/pkg/utils"
)

// Options controls cache construction. Zero values fall back to the
// built-in defaults; a config file, when given, is loaded first and
// CACHEKIT_* environment variables override it.
type Options struct {
	// ConfigFile is an optional YAML configuration file.
	ConfigFile string

	// StorageRoot overrides the directory holding the durable tiers.
	StorageRoot string

	// LogLevel overrides the log level (DEBUG, INFO, WARN, ERROR).
	LogLevel string

	// Metrics enables the Prometheus endpoint.
	Metrics bool

	// NoMaintenance disables the background daemon; the caller drives
	// expiry and budgets through Maintain.
	NoMaintenance bool
}

// Cache is the public handle: the tier coordinator plus its maintenance
// daemon and metrics endpoint.
type Cache struct {
	config    *config.Configuration
	logger    *utils.StructuredLogger
	collector *metrics.Collector
	manager   *cache.Manager
	daemon    *cache.Daemon
	rotator   *utils.LogRotator
	cancel    context.CancelFunc
}

// Open builds a cache from options, starts the maintenance daemon and,
// when enabled, the metrics endpoint.
func Open(opts *Options) (*Cache, error) {
	if opts == nil {
		opts = &Options{}
	}

	cfg := config.NewDefault()
	if opts.ConfigFile != "" {
		if err := cfg.LoadFromFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if opts.StorageRoot != "" {
		cfg.Global.StorageRoot = opts.StorageRoot
	}
	if opts.LogLevel != "" {
		cfg.Global.LogLevel = opts.LogLevel
	}
	if opts.Metrics {
		cfg.Monitoring.MetricsEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := utils.ParseLogLevel(cfg.Global.LogLevel)
	format := utils.FormatText
	if cfg.Global.LogFormat == "json" {
		format = utils.FormatJSON
	}
	loggerConfig := &utils.StructuredLoggerConfig{
		Level:  level,
		Format: format,
	}
	var rotator *utils.LogRotator
	if cfg.Global.LogFile != "" {
		var err error
		rotator, err = utils.NewLogRotator(&utils.RotationConfig{
			Filename:   cfg.Global.LogFile,
			MaxSize:    64,
			MaxBackups: 4,
			Compress:   true,
		})
		if err != nil {
			return nil, err
		}
		loggerConfig.Output = rotator
	}
	logger := utils.NewStructuredLogger(loggerConfig)

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Monitoring.MetricsEnabled,
		Port:    cfg.Monitoring.MetricsPort,
	})
	if err != nil {
		return nil, err
	}

	manager, err := cache.NewManager(cfg, logger, collector)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		config:    cfg,
		logger:    logger,
		collector: collector,
		manager:   manager,
		rotator:   rotator,
	}

	if err := collector.Start(); err != nil {
		_ = manager.Close()
		return nil, err
	}

	if !opts.NoMaintenance {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.daemon = cache.NewDaemon(manager, logger, collector)
		if err := c.daemon.Start(ctx); err != nil {
			cancel()
			_ = manager.Close()
			return nil, err
		}
	}

	return c, nil
}

// Get returns the cached value for a namespaced key.
func (c *Cache) Get(namespace, key string) ([]byte, bool, error) {
	return c.manager.Get(namespace, key)
}

// Put stores a value. A zero TTL selects the namespace default.
func (c *Cache) Put(namespace, key string, value []byte, ttl time.Duration) error {
	return c.manager.Put(namespace, key, value, ttl)
}

// Invalidate removes a key from every tier.
func (c *Cache) Invalidate(namespace, key string) error {
	return c.manager.Invalidate(namespace, key)
}

// InvalidateNamespace removes every key in a namespace from every tier.
func (c *Cache) InvalidateNamespace(namespace string) error {
	return c.manager.InvalidateNamespace(namespace)
}

// Stats returns a point-in-time snapshot across tiers.
func (c *Cache) Stats() types.StatsSnapshot {
	return c.manager.Stats()
}

// Maintain runs one maintenance cycle immediately.
func (c *Cache) Maintain(ctx context.Context) types.MaintenanceReport {
	if c.daemon == nil {
		c.daemon = cache.NewDaemon(c.manager, c.logger, c.collector)
	}
	return c.daemon.RunCycle(ctx)
}

// Close stops the daemon and metrics endpoint and releases tier resources.
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.daemon != nil && c.daemon.Running() {
		c.daemon.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.collector.Stop(ctx)
	err := c.manager.Close()
	if c.rotator != nil {
		_ = c.rotator.Close()
	}
	return err
}
