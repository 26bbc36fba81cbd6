package config

// EthereumConfig contains the connection and signing settings for the
// outbound faucet wallet.
type EthereumConfig struct {
	// RPCURL is the JSON-RPC endpoint used for nonce queries, broadcasting
	// and receipt polling.
	RPCURL string `yaml:"rpc_url"`

	// ChainID is the chain id used for transaction signing.
	// When 0 it is queried from the node at startup.
	ChainID int64 `yaml:"chain_id,omitempty"`

	// PrivateKey is the hex-encoded secp256k1 key of the faucet wallet.
	PrivateKey string `yaml:"private_key"`

	// GasLimit is the gas limit for payout transfers.
	// Default: 21000
	GasLimit uint64 `yaml:"gas_limit,omitempty"`

	// MaxFeeGwei caps the fee per gas for payout transactions (0 = no cap).
	MaxFeeGwei int64 `yaml:"max_fee_gwei,omitempty"`

	// ReceiptPollSeconds is how often receipts are polled while waiting for
	// confirmation.
	// Default: 2
	ReceiptPollSeconds int `yaml:"receipt_poll_seconds,omitempty"`

	// QueryTimeoutSeconds bounds individual RPC calls.
	// Default: 10
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds,omitempty"`
}
