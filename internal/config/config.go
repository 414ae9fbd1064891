// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for crawling parameters.
package config

import (
	"regexp"
	"time"
)

// Store backend names
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultIgnorePattern matches static assets that are never enqueued
const DefaultIgnorePattern = `.*\.(png|css|ico|jpg)`

// StoreConfig selects and configures the dedup/cache backend
type StoreConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`             // redis, sqlite or memory
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`       // host:port of the Redis server
	RedisDB      int    `mapstructure:"redis_db" yaml:"redis_db"`           // Redis logical database
	RedisPrefix  string `mapstructure:"redis_prefix" yaml:"redis_prefix"`   // Key prefix for seen set and cache entries
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // SQLite database file
	MemoryPages  int    `mapstructure:"memory_pages" yaml:"memory_pages"`   // Max cached pages for the memory backend
}

// LogConfig holds logging options
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// KafkaConfig enables page event publishing when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// Config holds crawler configuration
type Config struct {
	// Basic crawling parameters
	SeedURL        string        `mapstructure:"seed_url" yaml:"seed_url"`               // Starting URL for crawling
	MaxDepth       int           `mapstructure:"max_depth" yaml:"max_depth"`             // Max link hops from the seed
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`         // Max simultaneous fetches
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // Budget for GET plus body decode
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Global spacing between fetches, 0 disables
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`             // Lifetime of cached page text
	IgnorePattern  string        `mapstructure:"ignore_pattern" yaml:"ignore_pattern"`   // Regex of links never enqueued
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`   // Response bodies are truncated past this size

	Store StoreConfig `mapstructure:"store" yaml:"store"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka"`

	// Output
	Output      string `mapstructure:"output" yaml:"output"`             // Run report path (.json, .yaml or .yml)
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"` // Prometheus listen address, empty disables
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:       2,
		Concurrency:    5,
		RequestTimeout: 5 * time.Second,
		RequestDelay:   0,
		CacheTTL:       24 * time.Hour,
		IgnorePattern:  DefaultIgnorePattern,
		UserAgent:      "DepthCrawl/1.0",
		MaxBodyBytes:   10 * 1024 * 1024,
		Store: StoreConfig{
			Backend:      BackendRedis,
			RedisAddr:    "localhost:6379",
			RedisPrefix:  "depthcrawl:",
			DatabasePath: "./depthcrawl.db",
			MemoryPages:  10000,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		Kafka: KafkaConfig{
			Topic: "depthcrawl.pages",
		},
		Output: "results.json",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestDelay < 0 {
		return ErrInvalidDelay
	}

	if c.CacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}

	if _, err := regexp.Compile(c.IgnorePattern); err != nil {
		return ErrInvalidIgnorePattern
	}

	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return ErrEmptyRedisAddr
		}
	case BackendSQLite:
		if c.Store.DatabasePath == "" {
			return ErrEmptyDatabasePath
		}
	case BackendMemory:
	default:
		return ErrUnknownBackend
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return ErrEmptyKafkaTopic
	}

	return nil
}

// IgnoreRegexp compiles the ignore pattern. Call Validate first.
func (c *Config) IgnoreRegexp() *regexp.Regexp {
	return regexp.MustCompile(c.IgnorePattern)
}
