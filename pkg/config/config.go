package config

import (
	"fmt"
	"os"
	"time"

	"github.com/predyx-ai/predyx/pkg/backend"
	"github.com/predyx-ai/predyx/pkg/cache/redis"
	"github.com/predyx-ai/predyx/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all Predyx configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	DBPath     string           `yaml:"db_path"`
	Backends   []backend.Config `yaml:"backends"`
	Cache      CacheConfig      `yaml:"cache"`
	Router     RouterConfig     `yaml:"router"`
	Validation ValidationConfig `yaml:"validation"`
	Audit      models.AuditConfig `yaml:"audit"`
}

// CacheConfig controls the three cache tiers.
type CacheConfig struct {
	L1 L1Config     `yaml:"l1"`
	L2 L2Config     `yaml:"l2"`
	L3 L3Config     `yaml:"l3"`
}

// L1Config controls the process-local tier.
type L1Config struct {
	Enabled  bool          `yaml:"enabled"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// L2Config controls the shared Redis tier.
type L2Config struct {
	Enabled bool `yaml:"enabled"`
	redis.Config `yaml:",inline"`
}

// L3Config controls the durable SQLite tier.
type L3Config struct {
	Enabled bool          `yaml:"enabled"`
	DBPath  string        `yaml:"db_path"`
	TTL     time.Duration `yaml:"ttl"`
}

// RouterConfig defines query classification rules and failure policy.
type RouterConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// backend's circuit breaker.
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	Rules            []RuleConfig  `yaml:"rules"`
	// DefaultQueryType names the rule used when no keyword matches.
	DefaultQueryType string `yaml:"default_query_type"`
}

// RuleConfig maps keyword matches to a backend chain for one query type.
type RuleConfig struct {
	QueryType string   `yaml:"query_type"`
	Keywords  []string `yaml:"keywords"`
	Backend   string   `yaml:"backend"`
	Fallbacks []string `yaml:"fallbacks"`
}

// ValidationConfig controls the result validator.
type ValidationConfig struct {
	Enabled bool `yaml:"enabled"`
	// DailyBudget caps secondary checks per UTC day; 0 means unlimited.
	DailyBudget int `yaml:"daily_budget"`
	// HistoryWindow is how far back the cross-reference check looks.
	HistoryWindow time.Duration `yaml:"history_window"`
	Bounds        []BoundsConfig `yaml:"bounds"`
}

// BoundsConfig sets domain bounds for one query type. Values outside the
// hard bounds are flagged as high-severity anomalies.
type BoundsConfig struct {
	QueryType string  `yaml:"query_type"`
	HardMin   float64 `yaml:"hard_min"`
	HardMax   float64 `yaml:"hard_max"`
	SoftMin   float64 `yaml:"soft_min"`
	SoftMax   float64 `yaml:"soft_max"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "predyx.db",
		Cache: CacheConfig{
			L1: L1Config{Enabled: true, Capacity: 4096, TTL: 10 * time.Minute},
			L2: L2Config{Config: redis.Config{Addr: "localhost:6379", TTL: time.Hour}},
			L3: L3Config{Enabled: true, TTL: 6 * time.Hour},
		},
		Router: RouterConfig{
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Validation: ValidationConfig{
			Enabled:       true,
			DailyBudget:   10000,
			HistoryWindow: 24 * time.Hour,
		},
		Audit: models.AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
			BufferSize:    256,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	names := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend with empty name")
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		names[b.Name] = true
	}
	for _, r := range c.Router.Rules {
		if r.QueryType == "" {
			return fmt.Errorf("router rule with empty query_type")
		}
		if !names[r.Backend] {
			return fmt.Errorf("router rule %q references unknown backend %q", r.QueryType, r.Backend)
		}
		for _, fb := range r.Fallbacks {
			if !names[fb] {
				return fmt.Errorf("router rule %q references unknown fallback %q", r.QueryType, fb)
			}
		}
	}
	return nil
}
