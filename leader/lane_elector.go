package leader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pokt-network/pocket-faucet/logging"
	redisutil "github.com/pokt-network/pocket-faucet/transport/redis"
)

// Acquire only if the lease key is free.
const acquireLuaScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
    redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
    return 1
else
    return 0
end
`

// Extend only if we hold the lease.
const renewLuaScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("PEXPIRE", KEYS[1], ARGV[2])
    return 1
else
    return 0
end
`

// Drop only if we hold the lease.
const releaseLuaScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
else
    return 0
end
`

// LeadershipCallback is called when lane ownership changes.
type LeadershipCallback func(ctx context.Context)

// LaneElectorConfig holds the lease timing.
type LaneElectorConfig struct {
	// LeaseTTL is how long the lease survives without renewal.
	// Default: 30s
	LeaseTTL time.Duration

	// HeartbeatRate is how often the lease is acquired or renewed.
	// Must be well below LeaseTTL. Default: 10s
	HeartbeatRate time.Duration
}

// DefaultLaneElectorConfig returns the default lease timing.
func DefaultLaneElectorConfig() LaneElectorConfig {
	return LaneElectorConfig{
		LeaseTTL:      30 * time.Second,
		HeartbeatRate: 10 * time.Second,
	}
}

// LaneElector decides which faucet instance drives the outbound claim lane.
//
// Only one instance may sign and broadcast at a time because every payout
// draws from the same wallet nonce sequence. The lease is a Redis key owned
// by the instance id, acquired, renewed and released with Lua scripts.
type LaneElector struct {
	logger      logging.Logger
	redisClient *redisutil.Client
	instanceID  string
	config      LaneElectorConfig
	metrics     *leaderMetrics
	leaseKey    string

	isLeader                   atomic.Bool
	consecutiveAcquireFailures int

	acquireScript *redis.Script
	renewScript   *redis.Script
	releaseScript *redis.Script

	onElectedCallbacks []LeadershipCallback
	onLostCallbacks    []LeadershipCallback
	callbackMu         sync.RWMutex

	// Lifecycle
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewLaneElector creates a lane elector. instanceID must be unique across
// faucet instances sharing the Redis namespace.
func NewLaneElector(
	logger logging.Logger,
	redisClient *redisutil.Client,
	instanceID string,
	config LaneElectorConfig,
) *LaneElector {
	defaults := DefaultLaneElectorConfig()
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.HeartbeatRate <= 0 {
		config.HeartbeatRate = defaults.HeartbeatRate
	}

	return &LaneElector{
		logger:        logging.ForComponent(logger, logging.ComponentLaneElector),
		redisClient:   redisClient,
		instanceID:    instanceID,
		config:        config,
		metrics:       initMetrics(),
		leaseKey:      redisClient.KB().LaneLeaderKey(),
		acquireScript: redis.NewScript(acquireLuaScript),
		renewScript:   redis.NewScript(renewLuaScript),
		releaseScript: redis.NewScript(releaseLuaScript),
	}
}

// Start begins the lease loop. The first attempt happens immediately.
func (e *LaneElector) Start(ctx context.Context) error {
	ctx, e.cancelFn = context.WithCancel(ctx)

	e.wg.Add(1)
	go logging.RecoverGoRoutine(e.logger, logging.ComponentLaneElector, e.leaseLoop)(ctx)

	e.logger.Info().
		Str(logging.FieldInstance, e.instanceID).
		Dur("lease_ttl", e.config.LeaseTTL).
		Msg("lane elector started")
	return nil
}

func (e *LaneElector) leaseLoop(ctx context.Context) {
	defer e.wg.Done()

	e.attemptLeadership(ctx)

	ticker := time.NewTicker(e.config.HeartbeatRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attemptLeadership(ctx)
		}
	}
}

// attemptLeadership renews the lease when held, otherwise tries to acquire it.
func (e *LaneElector) attemptLeadership(ctx context.Context) {
	ttlMillis := e.config.LeaseTTL.Milliseconds()

	if e.isLeader.Load() {
		result, err := e.renewScript.Run(ctx, e.redisClient,
			[]string{e.leaseKey},
			e.instanceID,
			ttlMillis,
		).Int()

		switch {
		case err != nil:
			e.logger.Warn().
				Err(err).
				Str(logging.FieldInstance, e.instanceID).
				Msg("failed to renew lane lease (Redis error)")
			e.demote(ctx)
		case result == 0:
			e.logger.Warn().
				Str(logging.FieldInstance, e.instanceID).
				Msg("LOST claim lane lease")
			e.demote(ctx)
		default:
			e.logger.Debug().
				Str(logging.FieldInstance, e.instanceID).
				Msg("lane lease renewed")
		}
		return
	}

	result, err := e.acquireScript.Run(ctx, e.redisClient,
		[]string{e.leaseKey},
		e.instanceID,
		ttlMillis,
	).Int()

	switch {
	case err != nil:
		e.consecutiveAcquireFailures++
		reason := "redis_error"
		if redisutil.IsOOMError(err) {
			reason = "redis_oom"
		}
		e.logger.Warn().
			Err(err).
			Str(logging.FieldInstance, e.instanceID).
			Str(logging.FieldReason, reason).
			Int("consecutive_failures", e.consecutiveAcquireFailures).
			Msg("failed to acquire lane lease")
		e.metrics.acquisitionFailures.WithLabelValues(e.instanceID, reason).Inc()
	case result == 1:
		e.logger.Info().
			Str(logging.FieldInstance, e.instanceID).
			Int("recovered_after_failures", e.consecutiveAcquireFailures).
			Msg("ELECTED as claim lane owner")
		e.consecutiveAcquireFailures = 0
		e.isLeader.Store(true)
		e.metrics.status.WithLabelValues(e.instanceID).Set(1)
		e.metrics.elections.WithLabelValues(e.instanceID).Inc()
		e.invokeCallbacks(ctx, "lane_elected", &e.onElectedCallbacks)
	default:
		e.consecutiveAcquireFailures = 0
		e.metrics.status.WithLabelValues(e.instanceID).Set(0)
		e.logger.Debug().
			Str(logging.FieldInstance, e.instanceID).
			Msg("standing by, lane held by another instance")
	}
}

func (e *LaneElector) demote(ctx context.Context) {
	e.isLeader.Store(false)
	e.metrics.status.WithLabelValues(e.instanceID).Set(0)
	e.metrics.losses.WithLabelValues(e.instanceID).Inc()
	e.invokeCallbacks(ctx, "lane_lost", &e.onLostCallbacks)
}

func (e *LaneElector) invokeCallbacks(ctx context.Context, name string, registered *[]LeadershipCallback) {
	e.callbackMu.RLock()
	callbacks := make([]LeadershipCallback, len(*registered))
	copy(callbacks, *registered)
	e.callbackMu.RUnlock()

	for _, callback := range callbacks {
		e.wg.Add(1)
		go logging.RecoverGoRoutine(e.logger, name, func(ctx context.Context) {
			defer e.wg.Done()
			callback(ctx)
		})(ctx)
	}
}

// OnElected registers a callback run asynchronously when this instance
// acquires the lane.
func (e *LaneElector) OnElected(callback LeadershipCallback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onElectedCallbacks = append(e.onElectedCallbacks, callback)
}

// OnLost registers a callback run asynchronously when this instance loses the lane.
func (e *LaneElector) OnLost(callback LeadershipCallback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.onLostCallbacks = append(e.onLostCallbacks, callback)
}

// IsLeader reports whether this instance currently owns the claim lane.
// Safe for concurrent use.
func (e *LaneElector) IsLeader() bool {
	return e.isLeader.Load()
}

// InstanceID returns the id this instance writes into the lease.
func (e *LaneElector) InstanceID() string {
	return e.instanceID
}

// Close stops the lease loop and releases the lease so a standby can take
// over without waiting for expiry.
func (e *LaneElector) Close() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
	e.wg.Wait()

	if e.isLeader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		released, err := e.releaseScript.Run(ctx, e.redisClient,
			[]string{e.leaseKey},
			e.instanceID,
		).Int()
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to release lane lease on shutdown")
		} else if released == 1 {
			e.logger.Info().Msg("released lane lease on shutdown")
		}
		e.isLeader.Store(false)
		e.metrics.status.WithLabelValues(e.instanceID).Set(0)
	}

	e.logger.Info().Msg("lane elector stopped")
}
