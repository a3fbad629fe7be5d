package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/cachekit/cachekit/pkg/utils"
)

// Configuration represents the complete cache configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Tiers       TierConfig        `yaml:"tiers"`
	Placement   PlacementConfig   `yaml:"placement"`
	TTL         TTLConfig         `yaml:"ttl"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig represents global settings
type GlobalConfig struct {
	// StorageRoot is the directory holding the L2 database and L3 files.
	StorageRoot string `yaml:"storage_root"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	// LogFile, when set, sends log output to a size-rotated file instead
	// of stdout.
	LogFile string `yaml:"log_file"`
}

// TierConfig groups per-tier settings
type TierConfig struct {
	Memory MemoryTierConfig `yaml:"memory"`
	Store  StoreTierConfig  `yaml:"store"`
	File   FileTierConfig   `yaml:"file"`
}

// MemoryTierConfig represents L1 settings
type MemoryTierConfig struct {
	Capacity   string `yaml:"capacity"`
	MaxEntries int    `yaml:"max_entries"`
}

// StoreTierConfig represents L2 settings
type StoreTierConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxSize is the byte budget enforced by the maintenance daemon.
	MaxSize string `yaml:"max_size"`
	// FailureThreshold is the number of consecutive I/O failures after
	// which the tier reports itself disabled.
	FailureThreshold int `yaml:"failure_threshold"`
}

// FileTierConfig represents L3 settings
type FileTierConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxSize     string `yaml:"max_size"`
	Compression bool   `yaml:"compression"`
}

// PlacementConfig governs which tiers a put lands in by value size.
type PlacementConfig struct {
	// MemoryThreshold: values strictly below it are written through to
	// both L1 and L2.
	MemoryThreshold string `yaml:"memory_threshold"`
	// FileThreshold: values at or above it go to L3 with an existence
	// record in L2; between the two thresholds values go to L2 only.
	FileThreshold string `yaml:"file_threshold"`
	// PromotionPolicy is "pointer" or "full": what L2 receives when an
	// L3 hit is promoted.
	PromotionPolicy string `yaml:"promotion_policy"`
}

// TTLConfig holds the default TTL plus per-namespace overrides
type TTLConfig struct {
	Default    time.Duration            `yaml:"default"`
	Namespaces map[string]time.Duration `yaml:"namespaces"`
}

// MaintenanceConfig represents maintenance daemon settings
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
	// ScanLimit bounds the number of expired L2 rows handled per sweep.
	ScanLimit int `yaml:"scan_limit"`
}

// MonitoringConfig represents metrics settings
type MonitoringConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	MetricsPort    int  `yaml:"metrics_port"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			StorageRoot: "/var/cache/cachekit",
			LogLevel:    "INFO",
			LogFormat:   "text",
		},
		Tiers: TierConfig{
			Memory: MemoryTierConfig{
				Capacity:   "64MB",
				MaxEntries: 10000,
			},
			Store: StoreTierConfig{
				Enabled:          true,
				MaxSize:          "512MB",
				FailureThreshold: 5,
			},
			File: FileTierConfig{
				Enabled:     true,
				MaxSize:     "2GB",
				Compression: true,
			},
		},
		Placement: PlacementConfig{
			MemoryThreshold: "64KB",
			FileThreshold:   "1MB",
			PromotionPolicy: "pointer",
		},
		TTL: TTLConfig{
			Default: time.Hour,
			Namespaces: map[string]time.Duration{
				"items":       24 * time.Hour,
				"npc-scripts": 2 * time.Hour,
				"kb-answers":  30 * time.Minute,
			},
		},
		Maintenance: MaintenanceConfig{
			Interval:  5 * time.Minute,
			ScanLimit: 500,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: false,
			MetricsPort:    9120,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("CACHEKIT_STORAGE_ROOT"); val != "" {
		c.Global.StorageRoot = val
	}
	if val := os.Getenv("CACHEKIT_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("CACHEKIT_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("CACHEKIT_MEMORY_CAPACITY"); val != "" {
		c.Tiers.Memory.Capacity = val
	}
	if val := os.Getenv("CACHEKIT_STORE_MAX_SIZE"); val != "" {
		c.Tiers.Store.MaxSize = val
	}
	if val := os.Getenv("CACHEKIT_FILE_MAX_SIZE"); val != "" {
		c.Tiers.File.MaxSize = val
	}
	if val := os.Getenv("CACHEKIT_DEFAULT_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.TTL.Default = duration
		}
	}
	if val := os.Getenv("CACHEKIT_MAINTENANCE_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Maintenance.Interval = duration
		}
	}
	if val := os.Getenv("CACHEKIT_METRICS_ENABLED"); val != "" {
		c.Monitoring.MetricsEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CACHEKIT_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.MetricsPort = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// StorageRootPath returns the storage root with "~" expanded.
func (c *Configuration) StorageRootPath() (string, error) {
	return utils.ExpandPath(c.Global.StorageRoot)
}

// MemoryCapacityBytes returns the parsed L1 capacity
func (c *Configuration) MemoryCapacityBytes() (int64, error) {
	return utils.ParseBytes(c.Tiers.Memory.Capacity)
}

// StoreMaxBytes returns the parsed L2 byte budget
func (c *Configuration) StoreMaxBytes() (int64, error) {
	return utils.ParseBytes(c.Tiers.Store.MaxSize)
}

// FileMaxBytes returns the parsed L3 byte budget
func (c *Configuration) FileMaxBytes() (int64, error) {
	return utils.ParseBytes(c.Tiers.File.MaxSize)
}

// MemoryThresholdBytes returns the parsed write-through threshold
func (c *Configuration) MemoryThresholdBytes() (int64, error) {
	return utils.ParseBytes(c.Placement.MemoryThreshold)
}

// FileThresholdBytes returns the parsed large-value threshold
func (c *Configuration) FileThresholdBytes() (int64, error) {
	return utils.ParseBytes(c.Placement.FileThreshold)
}

// TTLFor returns the TTL for a namespace, falling back to the default.
func (c *Configuration) TTLFor(namespace string) time.Duration {
	if ttl, ok := c.TTL.Namespaces[namespace]; ok {
		return ttl
	}
	return c.TTL.Default
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := utils.ValidateStorageRoot(c.Global.StorageRoot); err != nil {
		return fmt.Errorf("invalid storage_root: %w", err)
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.Global.LogLevel)
	}

	memCap, err := c.MemoryCapacityBytes()
	if err != nil || memCap <= 0 {
		return fmt.Errorf("invalid memory capacity: %s", c.Tiers.Memory.Capacity)
	}

	memThreshold, err := c.MemoryThresholdBytes()
	if err != nil || memThreshold <= 0 {
		return fmt.Errorf("invalid memory_threshold: %s", c.Placement.MemoryThreshold)
	}

	fileThreshold, err := c.FileThresholdBytes()
	if err != nil || fileThreshold <= 0 {
		return fmt.Errorf("invalid file_threshold: %s", c.Placement.FileThreshold)
	}

	if memThreshold >= fileThreshold {
		return fmt.Errorf("memory_threshold (%s) must be below file_threshold (%s)",
			c.Placement.MemoryThreshold, c.Placement.FileThreshold)
	}

	switch c.Placement.PromotionPolicy {
	case "pointer", "full":
	default:
		return fmt.Errorf("invalid promotion_policy: %s (must be pointer or full)",
			c.Placement.PromotionPolicy)
	}

	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance interval must be greater than 0")
	}

	if c.Maintenance.ScanLimit <= 0 {
		return fmt.Errorf("maintenance scan_limit must be greater than 0")
	}

	if c.Tiers.Store.FailureThreshold <= 0 {
		return fmt.Errorf("store failure_threshold must be greater than 0")
	}

	return nil
}
