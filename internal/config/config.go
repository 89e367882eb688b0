package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config.yaml"

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int      `yaml:"port"`
	DSN            string   `yaml:"dsn"` // MySQL DSN
	RedisURL       string   `yaml:"redis_url"`
	Env            string   `yaml:"env"` // "development" | "production"
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Realtime RealtimeConfig `yaml:"realtime"`
}

// RealtimeConfig tunes the presence/fan-out subsystem.
type RealtimeConfig struct {
	HeartbeatFlushSec        int `yaml:"heartbeat_flush_sec"`
	ViewerCacheTTLSec        int `yaml:"viewer_cache_ttl_sec"`
	WatchSessionStaleMin     int `yaml:"watch_session_stale_min"`
	NotificationRetentionDay int `yaml:"notification_retention_day"`
}

// Load reads and validates the YAML config file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis_url is required")
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 2334
	}
	if c.Env == "" {
		c.Env = "production"
	}
	if c.Realtime.HeartbeatFlushSec <= 0 {
		c.Realtime.HeartbeatFlushSec = 5
	}
	if c.Realtime.ViewerCacheTTLSec <= 0 {
		c.Realtime.ViewerCacheTTLSec = 10
	}
	if c.Realtime.WatchSessionStaleMin <= 0 {
		c.Realtime.WatchSessionStaleMin = 10
	}
	if c.Realtime.NotificationRetentionDay <= 0 {
		c.Realtime.NotificationRetentionDay = 90
	}
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env == "development" }

// HeartbeatFlushInterval returns the flush period for the heartbeat batcher.
func (c *AppConfig) HeartbeatFlushInterval() time.Duration {
	return time.Duration(c.Realtime.HeartbeatFlushSec) * time.Second
}

// ViewerCacheTTL returns the TTL of the live viewer-count cache.
func (c *AppConfig) ViewerCacheTTL() time.Duration {
	return time.Duration(c.Realtime.ViewerCacheTTLSec) * time.Second
}

// WatchSessionStaleAfter returns how long a watch session may go without a
// heartbeat before the sweep marks it inactive.
func (c *AppConfig) WatchSessionStaleAfter() time.Duration {
	return time.Duration(c.Realtime.WatchSessionStaleMin) * time.Minute
}

// NotificationRetention returns how long read notifications are kept.
func (c *AppConfig) NotificationRetention() time.Duration {
	return time.Duration(c.Realtime.NotificationRetentionDay) * 24 * time.Hour
}
