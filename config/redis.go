package config

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss://, redis-sentinel://, redis-cluster://
	URL string `yaml:"url"`

	// PoolSize is the maximum number of socket connections.
	// Set to 0 to use the client default.
	PoolSize int `yaml:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections to maintain.
	MinIdleConns int `yaml:"min_idle_conns,omitempty"`

	// PoolTimeoutSeconds is the amount of time to wait for a connection from the pool.
	PoolTimeoutSeconds int `yaml:"pool_timeout_seconds,omitempty"`

	// ConnMaxIdleTimeSeconds is the maximum amount of time a connection can be idle.
	ConnMaxIdleTimeSeconds int `yaml:"conn_max_idle_time_seconds,omitempty"`

	// Namespace configures Redis key prefixes for all data types.
	Namespace RedisNamespaceConfig `yaml:"namespace,omitempty"`
}

// RedisNamespaceConfig contains Redis key namespace/prefix configuration.
// Components use transport/redis.KeyBuilder to construct keys from this config.
type RedisNamespaceConfig struct {
	// BasePrefix is the root prefix for all Redis keys (default: "faucet")
	BasePrefix string `yaml:"base_prefix,omitempty"`

	// SessionsPrefix is the prefix for session records and indexes (default: "sessions")
	// Full key: {BasePrefix}:{SessionsPrefix}:{sessionID}
	SessionsPrefix string `yaml:"sessions_prefix,omitempty"`

	// ClaimsPrefix is the prefix for the claim queue (default: "claims")
	// Full key: {BasePrefix}:{ClaimsPrefix}:{resource}
	ClaimsPrefix string `yaml:"claims_prefix,omitempty"`

	// LanePrefix is the prefix for the claim lane lease (default: "lane")
	LanePrefix string `yaml:"lane_prefix,omitempty"`
}

// DefaultRedisNamespaceConfig returns the default namespace configuration.
func DefaultRedisNamespaceConfig() RedisNamespaceConfig {
	return RedisNamespaceConfig{
		BasePrefix:     "faucet",
		SessionsPrefix: "sessions",
		ClaimsPrefix:   "claims",
		LanePrefix:     "lane",
	}
}
