// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs engine and frontier behavior.
type CrawlerConfig struct {
	Engines         int    `mapstructure:"engines"`
	Concurrency     int    `mapstructure:"concurrency"`
	BatchSize       int    `mapstructure:"batch_size"`
	MaxDepth        int    `mapstructure:"max_depth"`
	MaxRetries      int    `mapstructure:"max_retries"`
	FlushThreshold  int    `mapstructure:"flush_threshold"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	MaxPagesLimit   int    `mapstructure:"max_pages_limit"`
	MinDelayMs      int    `mapstructure:"min_delay_ms"`
	MaxDelayMs      int    `mapstructure:"max_delay_ms"`
	VisitedTTLHours int    `mapstructure:"visited_ttl_hours"`
	DedupScope      string `mapstructure:"dedup_scope"`
}

// HTTPConfig configures the outbound fetch client.
type HTTPConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	Proxies        []string `mapstructure:"proxies"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateBurst      int      `mapstructure:"rate_burst"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig locates the ledger backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RulesConfig locates the per-domain selector rules file.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig governs the pending-task ingestion sweep.
type IngestConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	BatchSize       int `mapstructure:"batch_size"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOPSPIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.engines", 4)
	v.SetDefault("crawler.concurrency", 100)
	v.SetDefault("crawler.batch_size", 100)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.flush_threshold", 1000)
	v.SetDefault("crawler.max_pages_default", 10)
	v.SetDefault("crawler.max_pages_limit", 1000)
	v.SetDefault("crawler.min_delay_ms", 500)
	v.SetDefault("crawler.max_delay_ms", 2000)
	v.SetDefault("crawler.visited_ttl_hours", 24)
	v.SetDefault("crawler.dedup_scope", "global")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.user_agent", "shopspider-bot/0.1")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("ingest.interval_seconds", 1)
	v.SetDefault("ingest.batch_size", 1000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Engines <= 0 {
		return fmt.Errorf("crawler.engines must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.FlushThreshold <= 0 {
		return fmt.Errorf("crawler.flush_threshold must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.MinDelayMs > c.Crawler.MaxDelayMs {
		return fmt.Errorf("crawler.min_delay_ms must not exceed crawler.max_delay_ms")
	}
	if c.Crawler.DedupScope != "global" && c.Crawler.DedupScope != "task" {
		return fmt.Errorf("crawler.dedup_scope must be \"global\" or \"task\"")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Ingest.IntervalSeconds <= 0 {
		return fmt.Errorf("ingest.interval_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// VisitedTTL converts the visited-set expiry config into a duration.
func (c Config) VisitedTTL() time.Duration {
	return time.Duration(c.Crawler.VisitedTTLHours) * time.Hour
}
