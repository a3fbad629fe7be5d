package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachekit/cachekit/pkg/types"
)

func TestNewCollector(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: 0})
	require.NoError(t, err)
	require.NotNil(t, c.Registry())
}

func TestDisabledCollectorIsNoOp(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, c.Registry())

	// None of these may panic on a disabled collector.
	c.RecordHit(types.TierMemory)
	c.RecordMiss(types.TierStore)
	c.RecordEviction(types.TierFile, "expired", 3)
	c.RecordUnavailable(types.TierStore)
	c.RecordMaintenanceCycle(time.Second)
	c.UpdateTier(types.TierMemory, types.TierStats{Size: 100})
	require.NoError(t, c.Start())
}

func TestRequestCounters(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true})
	require.NoError(t, err)

	c.RecordHit(types.TierMemory)
	c.RecordHit(types.TierMemory)
	c.RecordMiss(types.TierMemory)
	c.RecordMiss(types.TierStore)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.requestCounter.WithLabelValues("L1", "hit")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.requestCounter.WithLabelValues("L1", "miss")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.requestCounter.WithLabelValues("L2", "miss")))
}

func TestEvictionCounter(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true})
	require.NoError(t, err)

	c.RecordEviction(types.TierFile, "capacity", 5)
	c.RecordEviction(types.TierFile, "capacity", 0) // ignored

	assert.Equal(t, float64(5),
		testutil.ToFloat64(c.evictionCounter.WithLabelValues("L3", "capacity")))
}

func TestTierGauges(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true})
	require.NoError(t, err)

	c.UpdateTier(types.TierStore, types.TierStats{Size: 4096, Entries: 12})

	assert.Equal(t, float64(4096),
		testutil.ToFloat64(c.residentBytes.WithLabelValues("L2")))
	assert.Equal(t, float64(12),
		testutil.ToFloat64(c.entryCount.WithLabelValues("L2")))
}
