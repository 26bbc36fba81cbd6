package testutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	redisutil "github.com/pokt-network/pocket-faucet/transport/redis"
)

// RedisTestSuite provides a shared miniredis instance for tests.
// Embed it in a suite to get Redis setup and teardown.
//
// Every test starts from an empty database (FlushAll in SetupTest), so tests
// never depend on each other's keys.
//
// Usage:
//
//	type StoreTestSuite struct {
//	    testutil.RedisTestSuite
//	}
//
//	func (s *StoreTestSuite) TestSave() {
//	    err := s.RedisClient.Set(s.Ctx, "key", "value", 0).Err()
//	    s.Require().NoError(err)
//	}
//
//	func TestStoreTestSuite(t *testing.T) {
//	    suite.Run(t, new(StoreTestSuite))
//	}
type RedisTestSuite struct {
	suite.Suite

	// MiniRedis is the embedded server, used to inspect state or move time forward.
	MiniRedis *miniredis.Miniredis

	// RedisClient is connected to MiniRedis with the default faucet namespace.
	RedisClient *redisutil.Client

	// Ctx is a background context for Redis operations.
	Ctx context.Context
}

// SetupSuite starts one miniredis instance for the whole suite.
func (s *RedisTestSuite) SetupSuite() {
	mr, err := miniredis.Run()
	s.Require().NoError(err, "failed to create miniredis")
	s.MiniRedis = mr

	s.Ctx = context.Background()

	client, err := redisutil.NewClient(s.Ctx, redisutil.ClientConfig{
		URL: fmt.Sprintf("redis://%s", mr.Addr()),
	})
	s.Require().NoError(err, "failed to create Redis client")
	s.RedisClient = client
}

// SetupTest flushes all data before each test.
func (s *RedisTestSuite) SetupTest() {
	s.MiniRedis.FlushAll()
}

// TearDownSuite closes the client and the miniredis instance.
func (s *RedisTestSuite) TearDownSuite() {
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}
	if s.MiniRedis != nil {
		s.MiniRedis.Close()
	}
}

// RequireKeyExists asserts that a key exists in Redis.
func (s *RedisTestSuite) RequireKeyExists(key string) {
	exists, err := s.RedisClient.Exists(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to check key existence")
	s.Require().Equal(int64(1), exists, "key %q should exist", key)
}

// RequireKeyNotExists asserts that a key does not exist in Redis.
func (s *RedisTestSuite) RequireKeyNotExists(key string) {
	exists, err := s.RedisClient.Exists(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to check key existence")
	s.Require().Equal(int64(0), exists, "key %q should not exist", key)
}

// GetKey returns a string value, or "" when the key is missing.
func (s *RedisTestSuite) GetKey(key string) string {
	val, err := s.RedisClient.Get(s.Ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	s.Require().NoError(err, "failed to get key %q", key)
	return val
}

// SMembers returns all members of a set.
func (s *RedisTestSuite) SMembers(key string) []string {
	members, err := s.RedisClient.SMembers(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to get set members for %q", key)
	return members
}

// ZCard returns the cardinality of a sorted set.
func (s *RedisTestSuite) ZCard(key string) int64 {
	count, err := s.RedisClient.ZCard(s.Ctx, key).Result()
	s.Require().NoError(err, "failed to get sorted set cardinality for %q", key)
	return count
}

// HGet returns a hash field, or "" when it is missing.
func (s *RedisTestSuite) HGet(key, field string) string {
	val, err := s.RedisClient.HGet(s.Ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	s.Require().NoError(err, "failed to get hash field %q:%q", key, field)
	return val
}

// Ping verifies the Redis connection is alive.
func (s *RedisTestSuite) Ping() {
	err := s.RedisClient.Ping(s.Ctx).Err()
	s.Require().NoError(err, "Redis ping failed")
}
