package types

// TierName identifies one layer of the cache hierarchy.
type TierName string

const (
	TierMemory TierName = "L1"
	TierStore  TierName = "L2"
	TierFile   TierName = "L3"
)

// TierStats represents per-tier cache performance statistics
type TierStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int64   `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
	Unavailable uint64  `json:"unavailable"`
	Disabled    bool    `json:"disabled"`
}

// StatsSnapshot is a point-in-time view of the whole cache hierarchy.
// Producing it never blocks on maintenance work.
type StatsSnapshot struct {
	Tiers           map[TierName]TierStats `json:"tiers"`
	TotalHits       uint64                 `json:"total_hits"`
	TotalMisses     uint64                 `json:"total_misses"`
	OverallHitRatio float64                `json:"overall_hit_ratio"`
}

// MaintenanceReport summarizes one maintenance cycle.
type MaintenanceReport struct {
	Expired   map[TierName]int `json:"expired"`
	Evicted   map[TierName]int `json:"evicted"`
	Duration  string           `json:"duration"`
	Cancelled bool             `json:"cancelled"`
}
