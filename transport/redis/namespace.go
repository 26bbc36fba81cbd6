package redis

import (
	"fmt"

	"github.com/pokt-network/pocket-faucet/config"
)

// KeyBuilder builds Redis keys with configured prefixes.
// Every faucet key goes through here so deployments can share a Redis
// instance under different base prefixes.
type KeyBuilder struct {
	ns config.RedisNamespaceConfig
}

// NewKeyBuilder creates a new KeyBuilder with the given namespace configuration.
func NewKeyBuilder(ns config.RedisNamespaceConfig) *KeyBuilder {
	return &KeyBuilder{ns: ns}
}

// SessionKey builds the key holding a session record.
// Format: {base}:{sessions}:{sessionID}
// Example: "faucet:sessions:7f0c..."
func (kb *KeyBuilder) SessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.SessionsPrefix, sessionID)
}

// SessionStatusIndexKey builds the set key indexing sessions by status.
// Format: {base}:{sessions}:status:{status}
// Example: "faucet:sessions:status:claimable"
func (kb *KeyBuilder) SessionStatusIndexKey(status string) string {
	return fmt.Sprintf("%s:%s:status:%s", kb.ns.BasePrefix, kb.ns.SessionsPrefix, status)
}

// SessionsPrefix returns the prefix shared by all session keys.
// Format: {base}:{sessions}
func (kb *KeyBuilder) SessionsPrefix() string {
	return fmt.Sprintf("%s:%s", kb.ns.BasePrefix, kb.ns.SessionsPrefix)
}

// ClaimCounterKey builds the key of the monotonic queue index counter.
// Format: {base}:{claims}:counter
func (kb *KeyBuilder) ClaimCounterKey() string {
	return fmt.Sprintf("%s:%s:counter", kb.ns.BasePrefix, kb.ns.ClaimsPrefix)
}

// ClaimTxKeyPrefix returns the prefix that, followed by a queue index,
// names a claim record. Lua scripts append the index themselves.
// Format: {base}:{claims}:tx:
func (kb *KeyBuilder) ClaimTxKeyPrefix() string {
	return fmt.Sprintf("%s:%s:tx:", kb.ns.BasePrefix, kb.ns.ClaimsPrefix)
}

// ClaimTxKey builds the hash key holding the claim with the given queue index.
// Format: {base}:{claims}:tx:{queueIdx}
// Example: "faucet:claims:tx:42"
func (kb *KeyBuilder) ClaimTxKey(queueIdx int64) string {
	return fmt.Sprintf("%s%d", kb.ClaimTxKeyPrefix(), queueIdx)
}

// ClaimPendingKey builds the sorted set of claims not yet confirmed or failed,
// scored by queue index.
// Format: {base}:{claims}:pending
func (kb *KeyBuilder) ClaimPendingKey() string {
	return fmt.Sprintf("%s:%s:pending", kb.ns.BasePrefix, kb.ns.ClaimsPrefix)
}

// ClaimLastProcessedKey builds the key holding the highest processed queue index.
// Format: {base}:{claims}:last_processed
func (kb *KeyBuilder) ClaimLastProcessedKey() string {
	return fmt.Sprintf("%s:%s:last_processed", kb.ns.BasePrefix, kb.ns.ClaimsPrefix)
}

// LaneLeaderKey builds the lease key for the instance driving the claim lane.
// Format: {base}:{lane}:leader
func (kb *KeyBuilder) LaneLeaderKey() string {
	return fmt.Sprintf("%s:%s:leader", kb.ns.BasePrefix, kb.ns.LanePrefix)
}
