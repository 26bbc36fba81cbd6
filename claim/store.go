package claim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pokt-network/pocket-faucet/logging"
	redisutil "github.com/pokt-network/pocket-faucet/transport/redis"
)

// enqueueLuaScript reserves the next index and writes the claim and its
// pending entry in one step, so indices are gapless and never reused.
//
// KEYS[1] counter, KEYS[2] pending zset
// ARGV[1] claim key prefix, ARGV[2] session, ARGV[3] target, ARGV[4] amount, ARGV[5] now
const enqueueLuaScript = `
local idx = redis.call("INCR", KEYS[1])
redis.call("HSET", ARGV[1] .. idx,
    "idx", idx,
    "session", ARGV[2],
    "target", ARGV[3],
    "amount", ARGV[4],
    "status", "queued",
    "attempts", 0,
    "created", ARGV[5],
    "updated", ARGV[5])
redis.call("ZADD", KEYS[2], idx, idx)
return idx
`

// completeLuaScript writes the final fields, drops the pending entry and
// raises last_processed, never lowering it.
//
// KEYS[1] claim hash, KEYS[2] pending zset, KEYS[3] last_processed
// ARGV[1] idx, ARGV[2..] field/value pairs
const completeLuaScript = `
for i = 2, #ARGV, 2 do
    redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call("ZREM", KEYS[2], ARGV[1])
local current = tonumber(redis.call("GET", KEYS[3]) or "0")
local idx = tonumber(ARGV[1])
if idx > current then
    redis.call("SET", KEYS[3], ARGV[1])
    current = idx
end
return current
`

// Store persists claim transactions in Redis.
//
// Key layout:
//
//	{base}:claims:counter         -> INCR counter, last assigned index
//	{base}:claims:tx:{idx}        -> HASH claim fields
//	{base}:claims:pending         -> ZSET of non-terminal indices, score = index
//	{base}:claims:last_processed  -> highest completed index
type Store struct {
	logger      logging.Logger
	redisClient *redisutil.Client

	enqueueScript  *redis.Script
	completeScript *redis.Script

	now func() time.Time
}

// NewStore creates a Redis-backed claim store.
func NewStore(logger logging.Logger, redisClient *redisutil.Client) *Store {
	return &Store{
		logger:         logging.ForComponent(logger, logging.ComponentClaimStore),
		redisClient:    redisClient,
		enqueueScript:  redis.NewScript(enqueueLuaScript),
		completeScript: redis.NewScript(completeLuaScript),
		now:            time.Now,
	}
}

// Enqueue atomically assigns the next queue index and stores the claim as queued.
func (s *Store) Enqueue(ctx context.Context, sessionID, target, amount string) (idx int64, err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("claim_enqueue", start, err) }()

	kb := s.redisClient.KB()
	idx, err = s.enqueueScript.Run(ctx, s.redisClient,
		[]string{kb.ClaimCounterKey(), kb.ClaimPendingKey()},
		kb.ClaimTxKeyPrefix(), sessionID, target, amount, s.now().Unix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue claim for session %s: %w", sessionID, err)
	}
	return idx, nil
}

// Get loads a claim. Missing claims return ErrClaimNotFound.
func (s *Store) Get(ctx context.Context, idx int64) (tx *ClaimTx, err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("claim_get", start, err) }()

	cmd := s.redisClient.HGetAll(ctx, s.redisClient.KB().ClaimTxKey(idx))
	fields, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get claim %d: %w", idx, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrClaimNotFound, idx)
	}

	tx = &ClaimTx{}
	if err := cmd.Scan(tx); err != nil {
		return nil, fmt.Errorf("failed to decode claim %d: %w", idx, err)
	}
	return tx, nil
}

// NextPending returns the lowest pending claim, or nil when the queue is empty.
// Pending entries whose hash is gone are dropped.
func (s *Store) NextPending(ctx context.Context) (*ClaimTx, error) {
	pendingKey := s.redisClient.KB().ClaimPendingKey()
	for {
		members, err := s.redisClient.ZRange(ctx, pendingKey, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pending claims: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}

		idx, err := strconv.ParseInt(members[0], 10, 64)
		if err == nil {
			tx, getErr := s.Get(ctx, idx)
			if getErr == nil {
				return tx, nil
			}
			if !isNotFound(getErr) {
				return nil, getErr
			}
		}

		s.logger.Warn().
			Str(logging.FieldQueueIdx, members[0]).
			Msg("dropping pending entry without claim record")
		if err := s.redisClient.ZRem(ctx, pendingKey, members[0]).Err(); err != nil {
			return nil, fmt.Errorf("failed to drop orphan pending entry: %w", err)
		}
	}
}

// Pending returns every non-terminal claim in queue order.
func (s *Store) Pending(ctx context.Context) ([]*ClaimTx, error) {
	members, err := s.redisClient.ZRange(ctx, s.redisClient.KB().ClaimPendingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending claims: %w", err)
	}

	claims := make([]*ClaimTx, 0, len(members))
	for _, member := range members {
		idx, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		tx, err := s.Get(ctx, idx)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		claims = append(claims, tx)
	}
	return claims, nil
}

// PendingCount returns the number of non-terminal claims.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	n, err := s.redisClient.ZCard(ctx, s.redisClient.KB().ClaimPendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending claims: %w", err)
	}
	return n, nil
}

// LastIssued returns the last assigned queue index.
func (s *Store) LastIssued(ctx context.Context) (int64, error) {
	return s.getInt(ctx, s.redisClient.KB().ClaimCounterKey())
}

// LastProcessed returns the highest completed queue index.
func (s *Store) LastProcessed(ctx context.Context) (int64, error) {
	return s.getInt(ctx, s.redisClient.KB().ClaimLastProcessedKey())
}

func (s *Store) getInt(ctx context.Context, key string) (int64, error) {
	v, err := s.redisClient.Get(ctx, key).Int64()
	if redisutil.IsNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

// MarkProcessing moves a queued claim to processing.
func (s *Store) MarkProcessing(ctx context.Context, idx int64) error {
	return s.update(ctx, idx, "status", string(StatusProcessing))
}

// SaveSigned persists the signed transaction before it is broadcast.
func (s *Store) SaveSigned(ctx context.Context, idx int64, prepared *PreparedTx, rawHex string) error {
	return s.update(ctx, idx,
		"txhash", prepared.Hash,
		"txnonce", prepared.Nonce,
		"rawtx", rawHex,
	)
}

// IncrAttempts increments the broadcast attempt counter.
func (s *Store) IncrAttempts(ctx context.Context, idx int64) (int64, error) {
	n, err := s.redisClient.HIncrBy(ctx, s.redisClient.KB().ClaimTxKey(idx), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for claim %d: %w", idx, err)
	}
	return n, nil
}

func (s *Store) update(ctx context.Context, idx int64, pairs ...any) (err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("claim_update", start, err) }()

	pairs = append(pairs, "updated", s.now().Unix())
	if err = s.redisClient.HSet(ctx, s.redisClient.KB().ClaimTxKey(idx), pairs...).Err(); err != nil {
		return fmt.Errorf("failed to update claim %d: %w", idx, err)
	}
	return nil
}

// Confirm finalizes a mined claim and returns the new last processed index.
func (s *Store) Confirm(ctx context.Context, idx int64, txBlock uint64, txFee string) (int64, error) {
	return s.complete(ctx, idx,
		"status", string(StatusConfirmed),
		"txblock", strconv.FormatUint(txBlock, 10),
		"txfee", txFee,
	)
}

// Fail finalizes a failed claim and returns the new last processed index.
func (s *Store) Fail(ctx context.Context, idx int64, code, reason string) (int64, error) {
	return s.complete(ctx, idx,
		"status", string(StatusFailed),
		"failcode", code,
		"failreason", reason,
	)
}

func (s *Store) complete(ctx context.Context, idx int64, pairs ...string) (last int64, err error) {
	start := time.Now()
	defer func() { redisutil.ObserveOperation("claim_complete", start, err) }()

	kb := s.redisClient.KB()
	args := make([]any, 0, len(pairs)+3)
	args = append(args, idx)
	for _, p := range pairs {
		args = append(args, p)
	}
	args = append(args, "updated", s.now().Unix())

	last, err = s.completeScript.Run(ctx, s.redisClient,
		[]string{kb.ClaimTxKey(idx), kb.ClaimPendingKey(), kb.ClaimLastProcessedKey()},
		args...,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to complete claim %d: %w", idx, err)
	}
	return last, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrClaimNotFound)
}
