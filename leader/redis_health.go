package leader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pokt-network/pocket-faucet/logging"
	redisutil "github.com/pokt-network/pocket-faucet/transport/redis"
)

const (
	// defaultRedisHealthInterval is how often INFO MEMORY is polled.
	defaultRedisHealthInterval = 30 * time.Second

	// redisMemoryWarningThreshold triggers a WARN log above 90% of maxmemory.
	redisMemoryWarningThreshold = 0.9
)

// RedisHealthMonitor polls Redis INFO MEMORY and exposes memory metrics.
// It runs on every instance, standbys included, because a full Redis
// blocks session writes and lease acquisition alike.
type RedisHealthMonitor struct {
	logger      logging.Logger
	redisClient *redisutil.Client
	interval    time.Duration

	// Lifecycle
	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewRedisHealthMonitor creates a monitor. A zero interval uses 30s.
func NewRedisHealthMonitor(
	logger logging.Logger,
	redisClient *redisutil.Client,
	interval time.Duration,
) *RedisHealthMonitor {
	if interval <= 0 {
		interval = defaultRedisHealthInterval
	}
	return &RedisHealthMonitor{
		logger:      logging.ForComponent(logger, logging.ComponentRedisClient),
		redisClient: redisClient,
		interval:    interval,
	}
}

// Start begins the polling loop.
func (m *RedisHealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	ctx, m.cancelFn = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go logging.RecoverGoRoutine(m.logger, logging.ComponentRedisClient, m.monitorLoop)(ctx)

	m.logger.Info().
		Dur("interval", m.interval).
		Float64("warning_threshold", redisMemoryWarningThreshold).
		Msg("Redis health monitor started")
	return nil
}

func (m *RedisHealthMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	m.checkMemory(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkMemory(ctx)
		}
	}
}

// Ready pings Redis. It backs the /ready probe.
func (m *RedisHealthMonitor) Ready(ctx context.Context) error {
	if err := m.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (m *RedisHealthMonitor) checkMemory(ctx context.Context) {
	info, err := m.redisClient.Info(ctx, "memory").Result()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to query Redis INFO MEMORY")
		return
	}

	usedMemory, maxMemory, err := parseMemoryInfo(info)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to parse Redis INFO MEMORY")
		return
	}

	redisUsedMemoryBytes.Set(float64(usedMemory))
	redisMaxMemoryBytes.Set(float64(maxMemory))

	if maxMemory == 0 {
		redisMemoryUsageRatio.Set(-1)
		return
	}

	ratio := float64(usedMemory) / float64(maxMemory)
	redisMemoryUsageRatio.Set(ratio)
	if ratio > redisMemoryWarningThreshold {
		m.logger.Warn().
			Int64("used_memory_bytes", usedMemory).
			Int64("max_memory_bytes", maxMemory).
			Float64("usage_ratio", ratio).
			Msg("REDIS MEMORY HIGH - session writes and claim enqueues will fail at maxmemory")
	}
}

// parseMemoryInfo extracts used_memory and maxmemory from INFO MEMORY output.
func parseMemoryInfo(info string) (usedMemory, maxMemory int64, err error) {
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch strings.TrimSpace(key) {
		case "used_memory":
			usedMemory, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, 0, err
			}
		case "maxmemory":
			maxMemory, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, 0, err
			}
		}
	}
	return usedMemory, maxMemory, nil
}

// Close stops the monitor. Safe to call more than once.
func (m *RedisHealthMonitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("Redis health monitor stopped")
	return nil
}
