package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cachekit/cachekit/pkg/types"
)

// Collector exposes cache counters as Prometheus metrics. A disabled
// collector is a no-op so callers never guard their recording calls.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	requestCounter      *prometheus.CounterVec
	evictionCounter     *prometheus.CounterVec
	residentBytes       *prometheus.GaugeVec
	entryCount          *prometheus.GaugeVec
	unavailableCounter  *prometheus.CounterVec
	maintenanceDuration prometheus.Histogram

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewCollector creates a metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9120,
			Path:      "/metrics",
			Namespace: "cachekit",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "cachekit"
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "requests_total",
			Help:      "Lookup requests by tier and result",
		},
		[]string{"tier", "result"},
	)
	c.evictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "evictions_total",
			Help:      "Entries removed by tier and reason",
		},
		[]string{"tier", "reason"},
	)
	c.residentBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "resident_bytes",
			Help:      "Resident bytes per tier",
		},
		[]string{"tier"},
	)
	c.entryCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "entries",
			Help:      "Resident entries per tier",
		},
		[]string{"tier"},
	)
	c.unavailableCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "tier_unavailable_total",
			Help:      "Tier operations that failed with an I/O error",
		},
		[]string{"tier"},
	)
	c.maintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "maintenance_cycle_seconds",
			Help:      "Duration of maintenance cycles",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	collectors := []prometheus.Collector{
		c.requestCounter,
		c.evictionCounter,
		c.residentBytes,
		c.entryCount,
		c.unavailableCounter,
		c.maintenanceDuration,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Start serves the registry over HTTP until Stop is called.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the metrics endpoint
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordHit records a lookup served by the given tier.
func (c *Collector) RecordHit(tier types.TierName) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.WithLabelValues(string(tier), "hit").Inc()
}

// RecordMiss records a lookup the given tier could not serve.
func (c *Collector) RecordMiss(tier types.TierName) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.WithLabelValues(string(tier), "miss").Inc()
}

// RecordEviction records removed entries with a reason of "expired",
// "capacity" or "corrupt".
func (c *Collector) RecordEviction(tier types.TierName, reason string, count int) {
	if !c.config.Enabled || count <= 0 {
		return
	}
	c.evictionCounter.WithLabelValues(string(tier), reason).Add(float64(count))
}

// RecordUnavailable records a tier I/O failure.
func (c *Collector) RecordUnavailable(tier types.TierName) {
	if !c.config.Enabled {
		return
	}
	c.unavailableCounter.WithLabelValues(string(tier)).Inc()
}

// RecordMaintenanceCycle records the duration of one maintenance cycle.
func (c *Collector) RecordMaintenanceCycle(duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.maintenanceDuration.Observe(duration.Seconds())
}

// UpdateTier refreshes the per-tier gauges from a stats snapshot.
func (c *Collector) UpdateTier(tier types.TierName, stats types.TierStats) {
	if !c.config.Enabled {
		return
	}
	c.residentBytes.WithLabelValues(string(tier)).Set(float64(stats.Size))
	c.entryCount.WithLabelValues(string(tier)).Set(float64(stats.Entries))
}

// Registry exposes the underlying registry, for tests and embedding.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
