package config

import "errors"

var (
	// ErrNoSeedURL is returned when no seed URL is provided
	ErrNoSeedURL = errors.New("no seed URL provided")
	// ErrInvalidMaxDepth is returned when max depth is negative
	ErrInvalidMaxDepth = errors.New("max_depth cannot be negative")
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrInvalidDelay is returned when request delay is negative
	ErrInvalidDelay = errors.New("request_delay cannot be negative")
	// ErrInvalidCacheTTL is returned when cache TTL is not greater than 0
	ErrInvalidCacheTTL = errors.New("cache_ttl must be greater than 0")
	// ErrInvalidIgnorePattern is returned when the ignore pattern does not compile
	ErrInvalidIgnorePattern = errors.New("ignore_pattern is not a valid regular expression")
	// ErrUnknownBackend is returned for an unsupported store backend
	ErrUnknownBackend = errors.New("store.backend must be one of redis, sqlite, memory")
	// ErrEmptyRedisAddr is returned when the redis backend has no address
	ErrEmptyRedisAddr = errors.New("store.redis_addr cannot be empty")
	// ErrEmptyDatabasePath is returned when the sqlite backend has no database path
	ErrEmptyDatabasePath = errors.New("store.database_path cannot be empty")
	// ErrEmptyKafkaTopic is returned when brokers are set without a topic
	ErrEmptyKafkaTopic = errors.New("kafka.topic cannot be empty when brokers are set")
)
