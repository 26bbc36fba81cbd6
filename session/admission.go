package session

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleLimiterTTL is how long a per-address limiter can be idle before eviction.
const staleLimiterTTL = 30 * time.Minute

// AdmissionConfig contains the anti-abuse limits applied at session start.
type AdmissionConfig struct {
	// SessionsPerHour is the sustained session start rate allowed per remote address.
	// 0 disables rate limiting.
	SessionsPerHour float64

	// Burst is the number of sessions an address may start back to back.
	// Default: 1
	Burst int

	// MaxSessionsPerIP caps the non-terminal sessions per remote address.
	// 0 disables the check.
	MaxSessionsPerIP int

	// DeniedAddresses lists remote addresses and target addresses that are
	// never admitted. Matching is case-insensitive.
	DeniedAddresses []string
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AddressLimiter keeps one token bucket per remote address.
type AddressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	nowFunc  func() time.Time
}

// NewAddressLimiter creates a limiter allowing perHour starts per address.
func NewAddressLimiter(perHour float64, burst int) *AddressLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &AddressLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perHour / 3600),
		burst:    burst,
		nowFunc:  time.Now,
	}
}

// Allow consumes one token for addr and reports whether it was available.
func (l *AddressLimiter) Allow(addr string) bool {
	now := l.nowFunc()

	l.mu.Lock()
	entry, ok := l.limiters[addr]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// EvictStale removes limiters idle for longer than the stale TTL.
func (l *AddressLimiter) EvictStale() int {
	now := l.nowFunc()
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for addr, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(l.limiters, addr)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked addresses.
func (l *AddressLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// denyList is a case-insensitive address set.
type denyList map[string]struct{}

func newDenyList(addrs []string) denyList {
	d := make(denyList, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			d[strings.ToLower(a)] = struct{}{}
		}
	}
	return d
}

func (d denyList) contains(addr string) bool {
	if addr == "" {
		return false
	}
	_, ok := d[strings.ToLower(addr)]
	return ok
}
