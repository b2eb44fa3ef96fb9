// Package config loads the pagesense configuration from a YAML file
// and applies defaults for everything the file omits.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagesense/privacy"
)

// Config is the top-level pagesense configuration.
type Config struct {
	Page      PageConfig      `yaml:"page"`
	Browser   BrowserConfig   `yaml:"browser"`
	Observe   ObserveConfig   `yaml:"observe"`
	Network   NetworkConfig   `yaml:"network"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Provider  ProviderConfig  `yaml:"provider"`
	Privacy   privacy.Config  `yaml:"privacy"`
	History   HistoryConfig   `yaml:"history"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// PageConfig names the page to monitor.
type PageConfig struct {
	URL string `yaml:"url"`
	ID  string `yaml:"id"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"` // websocket URL; empty launches local headless
	Headful         bool          `yaml:"headful"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// ObserveConfig controls DOM change batching and buffers.
type ObserveConfig struct {
	ThrottleInterval  time.Duration `yaml:"throttle_interval"`
	MaxBatch          int           `yaml:"max_batch"`
	ChangeBuffer      int           `yaml:"change_buffer"`
	InteractionBuffer int           `yaml:"interaction_buffer"`
}

// NetworkConfig controls request capture.
type NetworkConfig struct {
	MaxRecords           int           `yaml:"max_records"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// AggregateConfig controls context assembly.
type AggregateConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	ActivityWindow    time.Duration `yaml:"activity_window"`
	MaxRecentRequests int           `yaml:"max_recent_requests"`
	MaxRecentChanges  int           `yaml:"max_recent_changes"`
}

// ProviderConfig controls the AI-facing surface.
type ProviderConfig struct {
	MaxTokens        int           `yaml:"max_tokens"`
	MaxContextLength int           `yaml:"max_context_length"`
	FormattedTTL     time.Duration `yaml:"formatted_ttl"`
}

// HistoryConfig controls the persisted context summaries.
type HistoryConfig struct {
	Path            string        `yaml:"path"` // empty disables persistence
	QueueSize       int           `yaml:"queue_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// HTTPConfig controls the local API listener.
type HTTPConfig struct {
	Addr    string `yaml:"addr"` // empty disables the HTTP API
	MaxBody int64  `yaml:"max_body"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes over the defaults, so an explicit zero in
// the file (meaningful for data_retention_days) is distinguishable
// from an omitted key.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	cfg.Privacy.DataRetentionDays = 7
	return &cfg
}

// ApplyDefaults fills every zero field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Page.ID == "" {
		c.Page.ID = "main"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Observe.ThrottleInterval <= 0 {
		c.Observe.ThrottleInterval = 100 * time.Millisecond
	}
	if c.Observe.MaxBatch <= 0 {
		c.Observe.MaxBatch = 500
	}
	if c.Observe.ChangeBuffer <= 0 {
		c.Observe.ChangeBuffer = 1000
	}
	if c.Observe.InteractionBuffer <= 0 {
		c.Observe.InteractionBuffer = 500
	}
	if c.Network.MaxRecords <= 0 {
		c.Network.MaxRecords = 500
	}
	if c.Network.HealthInterval <= 0 {
		c.Network.HealthInterval = 30 * time.Second
	}
	if c.Network.MaxReconnectAttempts <= 0 {
		c.Network.MaxReconnectAttempts = 5
	}
	if c.Aggregate.CacheTTL <= 0 {
		c.Aggregate.CacheTTL = 30 * time.Second
	}
	if c.Aggregate.ActivityWindow <= 0 {
		c.Aggregate.ActivityWindow = 5 * time.Minute
	}
	if c.Aggregate.MaxRecentRequests <= 0 {
		c.Aggregate.MaxRecentRequests = 20
	}
	if c.Aggregate.MaxRecentChanges <= 0 {
		c.Aggregate.MaxRecentChanges = 50
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = 2000
	}
	if c.Provider.MaxContextLength <= 0 {
		c.Provider.MaxContextLength = 4000
	}
	if c.Provider.FormattedTTL <= 0 {
		c.Provider.FormattedTTL = 15 * time.Second
	}
	if c.History.QueueSize <= 0 {
		c.History.QueueSize = 256
	}
	if c.History.CleanupInterval <= 0 {
		c.History.CleanupInterval = time.Hour
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 64 << 10
	}
}

// Validate reports configuration errors main should refuse to start on.
func (c *Config) Validate() error {
	if c.Page.URL == "" {
		return fmt.Errorf("config: page.url is required")
	}
	return nil
}
