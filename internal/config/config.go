package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL           string `yaml:"url"`
	MaxConns      int    `yaml:"max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	NodeID             string                   `yaml:"node_id"` // defaults to hostname+suffix
	Capacity           int                      `yaml:"capacity"`
	MaxPayloadMB       int                      `yaml:"max_payload_mb"`
	ErrorRateThreshold float64                  `yaml:"error_rate_threshold"`
	MinConcurrency     int                      `yaml:"min_concurrency"`
	MaxConcurrency     int                      `yaml:"max_concurrency"`
	InitialConcurrency int                      `yaml:"initial_concurrency"`
	PollInterval       time.Duration            `yaml:"poll_interval"`
	HeartbeatInterval  time.Duration            `yaml:"heartbeat_interval"`
	StaleNodeThreshold time.Duration            `yaml:"stale_node_threshold"`
	BreakerThreshold   int                      `yaml:"breaker_threshold"`
	BreakerWindow      time.Duration            `yaml:"breaker_window"`
	KindTimeouts       map[string]time.Duration `yaml:"kind_timeouts"` // per-kind deadline overrides
}

type ResourceConfig struct {
	MemoryCeilingMB int `yaml:"memory_ceiling_mb"`
}

type WebConfig struct {
	Port       int           `yaml:"port"`
	APIKey     string        `yaml:"api_key"`
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Resource ResourceConfig `yaml:"resource"`
	Web      WebConfig      `yaml:"web"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Queue.MinConcurrency > cfg.Queue.MaxConcurrency {
		return nil, errors.New("queue.min_concurrency must not exceed queue.max_concurrency")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 25
	}
	if cfg.Queue.MaxPayloadMB <= 0 {
		cfg.Queue.MaxPayloadMB = 5
	}
	if cfg.Queue.ErrorRateThreshold <= 0 {
		cfg.Queue.ErrorRateThreshold = 0.15
	}
	if cfg.Queue.MinConcurrency <= 0 {
		cfg.Queue.MinConcurrency = 5
	}
	if cfg.Queue.MaxConcurrency <= 0 {
		cfg.Queue.MaxConcurrency = 25
	}
	if cfg.Queue.InitialConcurrency <= 0 {
		cfg.Queue.InitialConcurrency = 10
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 2 * time.Second
	}
	if cfg.Queue.HeartbeatInterval <= 0 {
		cfg.Queue.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Queue.StaleNodeThreshold <= 0 {
		cfg.Queue.StaleNodeThreshold = 5 * time.Minute
	}
	if cfg.Queue.BreakerThreshold <= 0 {
		cfg.Queue.BreakerThreshold = 5
	}
	if cfg.Queue.BreakerWindow <= 0 {
		cfg.Queue.BreakerWindow = 10 * time.Minute
	}
	if cfg.Resource.MemoryCeilingMB <= 0 {
		cfg.Resource.MemoryCeilingMB = 1024
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8090
	}
	if cfg.Web.SessionTTL <= 0 {
		cfg.Web.SessionTTL = 30 * time.Minute
	}
}
