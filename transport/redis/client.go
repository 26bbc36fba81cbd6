package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pokt-network/pocket-faucet/config"
)

// Client wraps a Redis client with a KeyBuilder for namespace-aware key construction.
type Client struct {
	redis.UniversalClient
	keyBuilder *KeyBuilder
	poolSize   int // Configured pool size for validation
}

// KB returns the KeyBuilder for constructing Redis keys with configured namespaces.
//
// Example:
//
//	key := client.KB().SessionKey(sessionID)
//	// Returns: "faucet:sessions:7f0c..." (based on config)
func (c *Client) KB() *KeyBuilder {
	return c.keyBuilder
}

// PoolSize returns the configured pool size.
func (c *Client) PoolSize() int {
	return c.poolSize
}

// ClientConfig contains configuration for creating a Redis client.
type ClientConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss:// (TLS), redis-sentinel://, redis-cluster://
	URL string

	// MaxRetries is the maximum number of retries before giving up.
	// Default: 3
	MaxRetries int

	// PoolSize is the maximum number of socket connections.
	// Default: 20
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	// Default: 0
	MinIdleConns int

	// PoolTimeout is the amount of time to wait for a connection from the pool (seconds).
	// Default: 4 seconds
	// Set to 0 for go-redis default (1 second + ReadTimeout)
	PoolTimeoutSeconds int

	// ConnMaxIdleTime is the maximum amount of time a connection can be idle (seconds).
	// Idle connections older than this are closed.
	// Default: 5 minutes
	// Set to 0 to disable (connections never closed due to idle time)
	ConnMaxIdleTimeSeconds int

	// Namespace configures Redis key prefixes.
	// If not provided, defaults are used (faucet:sessions, faucet:claims, ...)
	Namespace config.RedisNamespaceConfig
}

// NewClient creates a new Redis client with KeyBuilder from the configuration.
// Supports standalone, sentinel, and cluster modes based on URL scheme.
// Cluster mode requires the faucet keys to share a hash slot, which the
// default namespace does not guarantee; use a {tagged} base prefix there.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Set defaults
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	// The faucet holds no blocking connections: request handlers, the
	// sweeper, the claim worker and the lane lease all issue short commands.
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 20
	}

	var client redis.UniversalClient

	switch u.Scheme {
	case "redis", "rediss":
		// Standalone Redis
		opts, parseErr := redis.ParseURL(cfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", parseErr)
		}
		opts.MaxRetries = maxRetries
		opts.PoolSize = poolSize
		opts.MinIdleConns = cfg.MinIdleConns

		// Apply timeout settings
		if cfg.PoolTimeoutSeconds > 0 {
			opts.PoolTimeout = time.Duration(cfg.PoolTimeoutSeconds) * time.Second
		}
		if cfg.ConnMaxIdleTimeSeconds > 0 {
			opts.ConnMaxIdleTime = time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second
		}

		client = redis.NewClient(opts)

	case "redis-sentinel":
		// Redis Sentinel
		client, err = newSentinelClient(u, maxRetries, poolSize, cfg.MinIdleConns, cfg.PoolTimeoutSeconds, cfg.ConnMaxIdleTimeSeconds)
		if err != nil {
			return nil, err
		}

	case "redis-cluster":
		// Redis Cluster
		client, err = newClusterClient(u, maxRetries, poolSize, cfg.MinIdleConns, cfg.PoolTimeoutSeconds, cfg.ConnMaxIdleTimeSeconds)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported redis URL scheme: %s", u.Scheme)
	}

	// Test connection
	if err = client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// Initialize namespace config with defaults if not provided
	namespace := cfg.Namespace
	if namespace.BasePrefix == "" {
		namespace = config.DefaultRedisNamespaceConfig()
	}

	return &Client{
		UniversalClient: client,
		keyBuilder:      NewKeyBuilder(namespace),
		poolSize:        poolSize,
	}, nil
}

// newSentinelClient creates a Redis Sentinel client.
// URL format: redis-sentinel://[:password@]host1:port1,host2:port2/master_name[?db=N]
func newSentinelClient(u *url.URL, maxRetries, poolSize, minIdleConns, poolTimeoutSeconds, connMaxIdleTimeSeconds int) (redis.UniversalClient, error) {
	// Parse master name from path
	masterName := strings.TrimPrefix(u.Path, "/")
	if masterName == "" {
		return nil, fmt.Errorf("sentinel URL must include master name in path")
	}

	// Parse sentinel addresses
	addrs := strings.Split(u.Host, ",")
	if len(addrs) == 0 {
		return nil, fmt.Errorf("sentinel URL must include at least one sentinel address")
	}

	// Parse password
	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	// Parse DB number
	db := 0
	if dbStr := u.Query().Get("db"); dbStr != "" {
		var err error
		db, err = strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid db number: %w", err)
		}
	}

	opts := &redis.FailoverOptions{
		MasterName:    masterName,
		SentinelAddrs: addrs,
		Password:      password,
		DB:            db,
		MaxRetries:    maxRetries,
		PoolSize:      poolSize,
		MinIdleConns:  minIdleConns,
	}

	// Apply timeout settings
	if poolTimeoutSeconds > 0 {
		opts.PoolTimeout = time.Duration(poolTimeoutSeconds) * time.Second
	}
	if connMaxIdleTimeSeconds > 0 {
		opts.ConnMaxIdleTime = time.Duration(connMaxIdleTimeSeconds) * time.Second
	}

	return redis.NewFailoverClient(opts), nil
}

// newClusterClient creates a Redis Cluster client.
// URL format: redis-cluster://[:password@]host1:port1,host2:port2[?db=N]
func newClusterClient(u *url.URL, maxRetries, poolSize, minIdleConns, poolTimeoutSeconds, connMaxIdleTimeSeconds int) (redis.UniversalClient, error) {
	// Parse cluster addresses
	addrs := strings.Split(u.Host, ",")
	if len(addrs) == 0 {
		return nil, fmt.Errorf("cluster URL must include at least one node address")
	}

	// Parse password
	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	opts := &redis.ClusterOptions{
		Addrs:        addrs,
		Password:     password,
		MaxRetries:   maxRetries,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
	}

	// Apply timeout settings
	if poolTimeoutSeconds > 0 {
		opts.PoolTimeout = time.Duration(poolTimeoutSeconds) * time.Second
	}
	if connMaxIdleTimeSeconds > 0 {
		opts.ConnMaxIdleTime = time.Duration(connMaxIdleTimeSeconds) * time.Second
	}

	return redis.NewClusterClient(opts), nil
}

// ClientConfigFrom converts the YAML redis section into a ClientConfig.
func ClientConfigFrom(cfg config.RedisConfig) ClientConfig {
	return ClientConfig{
		URL:                    cfg.URL,
		PoolSize:               cfg.PoolSize,
		MinIdleConns:           cfg.MinIdleConns,
		PoolTimeoutSeconds:     cfg.PoolTimeoutSeconds,
		ConnMaxIdleTimeSeconds: cfg.ConnMaxIdleTimeSeconds,
		Namespace:              cfg.Namespace,
	}
}
