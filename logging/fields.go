// Package logging provides centralized logging utilities for the faucet.
// It defines standardized field names and helper functions to ensure consistent
// structured logging across all faucet components.
package logging

// Standard field name constants for structured logging.
// Using constants ensures consistency and prevents typos across the codebase.
const (
	// Component identification
	FieldComponent = "component"
	FieldInstance  = "instance"

	// Session fields
	FieldSessionID     = "session_id"
	FieldSessionStatus = "session_status"
	FieldTargetAddr    = "target_addr"
	FieldDropAmount    = "drop_amount"
	FieldTask          = "task"
	FieldModule        = "module"

	// Claim queue fields
	FieldQueueIdx     = "queue_idx"
	FieldLastIdx      = "last_idx"
	FieldClaimStatus  = "claim_status"
	FieldFailCode     = "fail_code"
	FieldErrorClass   = "error_class"
	FieldPendingCount = "pending_count"

	// Operation fields
	FieldOperation = "operation"
	FieldAction    = "action"
	FieldMethod    = "method"
	FieldEndpoint  = "endpoint"
	FieldResult    = "result"
	FieldReason    = "reason"

	// Network/connection fields
	FieldAddr       = "addr"
	FieldListenAddr = "listen_addr"
	FieldRemoteAddr = "remote_addr"

	// Transaction fields
	FieldTxHash  = "tx_hash"
	FieldTxNonce = "tx_nonce"
	FieldTxBlock = "tx_block"
	FieldChainID = "chain_id"

	// Timing fields
	FieldDuration = "duration"

	// Count/size fields
	FieldCount = "count"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"

	// Error fields
	FieldAttempt  = "attempt"
	FieldMaxRetry = "max_retries"

	// Config fields
	FieldPath = "path"
)

// Component name constants for the "component" field.
// These identify the source of log messages.
const (
	ComponentFaucet         = "faucet"
	ComponentSessionManager = "session_manager"
	ComponentSessionStore   = "session_store"
	ComponentSessionSweeper = "session_sweeper"
	ComponentHooks          = "module_hooks"
	ComponentAdmission      = "admission"

	ComponentClaimQueue  = "claim_queue"
	ComponentClaimWorker = "claim_worker"
	ComponentClaimStore  = "claim_store"
	ComponentLaneElector = "lane_elector"

	ComponentWallet       = "wallet"
	ComponentFaucetStatus = "faucet_status"
	ComponentWebAPI       = "web_api"

	ComponentRedisClient   = "redis_client"
	ComponentObservability = "observability_server"
)

// Operation result constants for the "result" field.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultTimeout = "timeout"
)

// Replica role constants for the lane elector.
const (
	ReplicaLeader  = "leader"
	ReplicaStandby = "standby"
)
