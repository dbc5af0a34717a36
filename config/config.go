package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NESO       NESOConfig       `yaml:"neso"`
	Crawler    CrawlerConfig    `yaml:"crawler"`
	Postcode   PostcodeConfig   `yaml:"postcode"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the watch alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
	ShutdownSeconds int           `yaml:"shutdown_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// RedisConfig holds the shared cache connection. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NESOConfig describes the capacity market registry API.
type NESOConfig struct {
	BaseURL               string        `yaml:"base_url"`
	CMUResourceID         string        `yaml:"cmu_resource_id"`
	ComponentResourceID   string        `yaml:"component_resource_id"`
	PageSize              int           `yaml:"page_size"`
	ComponentLimit        int           `yaml:"component_limit"`
	TimeoutSeconds        int           `yaml:"timeout_seconds"`
	Timeout               time.Duration `yaml:"-"`
	RequestIntervalMillis int           `yaml:"request_interval_ms"`
	RequestInterval       time.Duration `yaml:"-"`
}

// CrawlerConfig controls the scheduled registry crawl.
type CrawlerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	CacheSchedule string `yaml:"cache_schedule"`
	BatchSize     int    `yaml:"batch_size"`
	MaxCMUsPerRun int    `yaml:"max_cmus_per_run"`
}

// PostcodeConfig controls area to outcode resolution.
type PostcodeConfig struct {
	PostcodesIOURL      string        `yaml:"postcodes_io_url"`
	NominatimURL        string        `yaml:"nominatim_url"`
	UserAgent           string        `yaml:"user_agent"`
	MappingFile         string        `yaml:"mapping_file"`
	MinIntervalMillis   int           `yaml:"min_interval_ms"`
	MinInterval         time.Duration `yaml:"-"`
	LookupIntervalMs    int           `yaml:"lookup_interval_ms"`
	LookupInterval      time.Duration `yaml:"-"`
	CacheTTLHours       int           `yaml:"cache_ttl_hours"`
	CacheTTL            time.Duration `yaml:"-"`
	ReverseRadiusMeters int           `yaml:"reverse_radius_m"`
	ReverseLimit        int           `yaml:"reverse_limit"`
	TimeoutSeconds      int           `yaml:"timeout_seconds"`
	Timeout             time.Duration `yaml:"-"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied, for tools and tests.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if cfg.Server.ShutdownSeconds <= 0 {
		cfg.Server.ShutdownSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.NESO.BaseURL == "" {
		cfg.NESO.BaseURL = "https://api.neso.energy/api/3/action/datastore_search"
	}
	if cfg.NESO.CMUResourceID == "" {
		cfg.NESO.CMUResourceID = "25a5fa2e-873d-41c5-8aaf-fbc2b06d79e6"
	}
	if cfg.NESO.ComponentResourceID == "" {
		cfg.NESO.ComponentResourceID = "790f5fa0-f8eb-4d82-b98d-0d34d3e404e8"
	}
	if cfg.NESO.PageSize <= 0 {
		cfg.NESO.PageSize = 100
	}
	if cfg.NESO.ComponentLimit <= 0 {
		cfg.NESO.ComponentLimit = 1000
	}
	if cfg.NESO.TimeoutSeconds <= 0 {
		cfg.NESO.TimeoutSeconds = 30
	}
	cfg.NESO.Timeout = time.Duration(cfg.NESO.TimeoutSeconds) * time.Second
	if cfg.NESO.RequestIntervalMillis <= 0 {
		cfg.NESO.RequestIntervalMillis = 1000
	}
	cfg.NESO.RequestInterval = time.Duration(cfg.NESO.RequestIntervalMillis) * time.Millisecond

	if cfg.Crawler.Schedule == "" {
		cfg.Crawler.Schedule = "@every 24h"
	}
	if cfg.Crawler.CacheSchedule == "" {
		cfg.Crawler.CacheSchedule = "@every 6h"
	}
	if cfg.Crawler.BatchSize <= 0 {
		cfg.Crawler.BatchSize = cfg.NESO.PageSize
	}

	if cfg.Postcode.PostcodesIOURL == "" {
		cfg.Postcode.PostcodesIOURL = "https://api.postcodes.io"
	}
	if cfg.Postcode.NominatimURL == "" {
		cfg.Postcode.NominatimURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Postcode.UserAgent == "" {
		cfg.Postcode.UserAgent = "capacity-checker/1.0"
	}
	if cfg.Postcode.MappingFile == "" {
		cfg.Postcode.MappingFile = "./data_storage/postcode_mappings.json"
	}
	if cfg.Postcode.MinIntervalMillis <= 0 {
		// Nominatim usage policy: at most one request per second.
		cfg.Postcode.MinIntervalMillis = 1000
	}
	cfg.Postcode.MinInterval = time.Duration(cfg.Postcode.MinIntervalMillis) * time.Millisecond
	if cfg.Postcode.LookupIntervalMs <= 0 {
		cfg.Postcode.LookupIntervalMs = 100
	}
	cfg.Postcode.LookupInterval = time.Duration(cfg.Postcode.LookupIntervalMs) * time.Millisecond
	if cfg.Postcode.CacheTTLHours <= 0 {
		cfg.Postcode.CacheTTLHours = 24 * 30
	}
	cfg.Postcode.CacheTTL = time.Duration(cfg.Postcode.CacheTTLHours) * time.Hour
	if cfg.Postcode.ReverseRadiusMeters <= 0 {
		cfg.Postcode.ReverseRadiusMeters = 2000
	}
	if cfg.Postcode.ReverseLimit <= 0 {
		cfg.Postcode.ReverseLimit = 50
	}
	if cfg.Postcode.TimeoutSeconds <= 0 {
		cfg.Postcode.TimeoutSeconds = 10
	}
	cfg.Postcode.Timeout = time.Duration(cfg.Postcode.TimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
