package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pokt-network/pocket-faucet/logging"
	redisutil "github.com/pokt-network/pocket-faucet/transport/redis"
)

// Store persists session records.
type Store interface {
	// Save writes the record and moves it to the index of its status.
	Save(ctx context.Context, rec *Record) error

	// Get returns the record, or (nil, nil) when it does not exist.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Delete removes the record and its index entries.
	Delete(ctx context.Context, sessionID string) error

	// GetByStatus returns all records whose status is in statuses.
	GetByStatus(ctx context.Context, statuses ...Status) ([]*Record, error)

	// Close releases store resources.
	Close() error
}

// StoreConfig contains configuration for the Redis session store.
type StoreConfig struct {
	// TTL is how long a record is kept after its last write.
	// Default: 24h
	TTL time.Duration
}

// RedisStore stores session records as JSON strings with a TTL and keeps one
// set per status as a secondary index.
//
// Key layout:
//
//	{base}:sessions:{id}               -> JSON record
//	{base}:sessions:status:{status}    -> SET of session ids
type RedisStore struct {
	logger      logging.Logger
	redisClient *redisutil.Client
	config      StoreConfig
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(logger logging.Logger, redisClient *redisutil.Client, config StoreConfig) *RedisStore {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	return &RedisStore{
		logger:      logging.ForComponent(logger, logging.ComponentSessionStore),
		redisClient: redisClient,
		config:      config,
	}
}

// Save writes the record and updates the status indexes in one transaction.
func (s *RedisStore) Save(ctx context.Context, rec *Record) (err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("session_save", start, err) }()

	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("session record must have an id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", rec.SessionID, err)
	}

	kb := s.redisClient.KB()
	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, kb.SessionKey(rec.SessionID), data, s.config.TTL)
		for _, status := range AllStatuses() {
			if status == rec.Status {
				pipe.SAdd(ctx, kb.SessionStatusIndexKey(string(status)), rec.SessionID)
			} else {
				pipe.SRem(ctx, kb.SessionStatusIndexKey(string(status)), rec.SessionID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Get loads a record. Missing records return (nil, nil).
func (s *RedisStore) Get(ctx context.Context, sessionID string) (rec *Record, err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("session_get", start, err) }()

	data, err := s.redisClient.Get(ctx, s.redisClient.KB().SessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	rec = &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return rec, nil
}

// Delete removes the record and its index entries.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) (err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("session_delete", start, err) }()

	kb := s.redisClient.KB()
	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, kb.SessionKey(sessionID))
		for _, status := range AllStatuses() {
			pipe.SRem(ctx, kb.SessionStatusIndexKey(string(status)), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// GetByStatus returns the records indexed under any of the given statuses.
// Index entries whose record already expired are pruned.
func (s *RedisStore) GetByStatus(ctx context.Context, statuses ...Status) (recs []*Record, err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("session_get_by_status", start, err) }()

	if len(statuses) == 0 {
		return nil, nil
	}

	kb := s.redisClient.KB()
	indexKeys := make([]string, 0, len(statuses))
	for _, status := range statuses {
		indexKeys = append(indexKeys, kb.SessionStatusIndexKey(string(status)))
	}

	ids, err := s.redisClient.SUnion(ctx, indexKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session status index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = kb.SessionKey(id)
	}
	values, err := s.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	var stale []string
	recs = make([]*Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		rec := &Record{}
		if err := json.Unmarshal([]byte(str), rec); err != nil {
			s.logger.Warn().
				Err(err).
				Str(logging.FieldSessionID, ids[i]).
				Msg("skipping undecodable session record")
			continue
		}
		recs = append(recs, rec)
	}

	if len(stale) > 0 {
		s.pruneIndex(ctx, indexKeys, stale)
	}
	return recs, nil
}

func (s *RedisStore) pruneIndex(ctx context.Context, indexKeys []string, ids []string) {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range indexKeys {
			pipe.SRem(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Int(logging.FieldCount, len(ids)).Msg("failed to prune expired sessions from index")
		return
	}
	s.logger.Debug().Int(logging.FieldCount, len(ids)).Msg("pruned expired sessions from index")
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}
