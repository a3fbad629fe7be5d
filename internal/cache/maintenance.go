package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cachekit/cachekit/internal/metrics"
	"github.com/cachekit/cachekit/pkg/errors"
	"github.com/cachekit/cachekit/pkg/types"
	"github.com/cachekit/cachekit/pkg/utils"
)

// Daemon runs periodic maintenance through the manager's public sweep
// operations: eager expiry, budget enforcement, store compaction. Cycles
// never overlap; if one runs past the interval the next tick is skipped.
// Cancellation takes effect between tier sweeps, not mid-sweep.
type Daemon struct {
	manager  *Manager
	logger   *utils.StructuredLogger
	metrics  *metrics.Collector
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a maintenance daemon for a manager.
func NewDaemon(manager *Manager, logger *utils.StructuredLogger, collector *metrics.Collector) *Daemon {
	if logger == nil {
		logger = utils.NewStructuredLogger(nil)
	}
	if collector == nil {
		collector, _ = metrics.NewCollector(&metrics.Config{Enabled: false})
	}
	return &Daemon{
		manager:  manager,
		logger:   logger.WithComponent("maintenance"),
		metrics:  collector,
		interval: manager.config.Maintenance.Interval,
	}
}

// Start begins the maintenance loop. Starting a running daemon is an error.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "maintenance daemon already running").
			WithComponent("maintenance")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.loop(ctx)
	d.logger.Info("maintenance daemon started", map[string]interface{}{
		"interval": d.interval.String(),
	})
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to yield.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	d.logger.Info("maintenance daemon stopped")
}

// Running reports whether the loop is active.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// RunCycle executes one maintenance cycle immediately, outside the timer.
// The loop uses the same path, so cycles cannot overlap with the timer's.
func (d *Daemon) RunCycle(ctx context.Context) types.MaintenanceReport {
	return d.cycle(ctx)
}

func (d *Daemon) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := d.cycle(ctx)
			if report.Cancelled {
				return
			}
		}
	}
}

// cycle runs expiry sweeps, budget enforcement and compaction in order,
// then reports what it did.
func (d *Daemon) cycle(ctx context.Context) types.MaintenanceReport {
	start := time.Now()
	report := types.MaintenanceReport{
		Expired: make(map[types.TierName]int),
		Evicted: make(map[types.TierName]int),
	}

	expired, err := d.manager.SweepExpired(ctx)
	for tier, n := range expired {
		report.Expired[tier] = n
	}
	if err != nil {
		report.Cancelled = true
		report.Duration = time.Since(start).String()
		return report
	}

	capacity, err := d.manager.EnforceBudgets(ctx)
	for tier, n := range capacity {
		report.Evicted[tier] = n
	}
	if err != nil {
		report.Cancelled = true
		report.Duration = time.Since(start).String()
		return report
	}

	if err := d.manager.CompactStore(); err != nil {
		d.logger.Warn("store compaction failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	elapsed := time.Since(start)
	report.Duration = elapsed.String()
	d.metrics.RecordMaintenanceCycle(elapsed)

	// Refresh the per-tier gauges while we are here.
	d.manager.Stats()

	d.logger.Debug("maintenance cycle complete", map[string]interface{}{
		"expired":  report.Expired,
		"duration": report.Duration,
	})
	return report
}
