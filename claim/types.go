package claim

import (
	"context"
	"errors"
	"math/big"
)

// Status is the lifecycle state of a queued claim transaction.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true for confirmed and failed.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Failure codes written to failed claims and their sessions.
const (
	CodeTxReverted      = "TX_REVERTED"
	CodeBroadcastFailed = "BROADCAST_FAILED"
	CodeConfirmTimeout  = "CONFIRM_TIMEOUT"
	CodeInvalidClaim    = "INVALID_CLAIM"
	CodeSessionRejected = "SESSION_NOT_CLAIMING"
)

var (
	// ErrClaimNotFound indicates no claim exists at the queue index.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrQueueClosed indicates the queue was closed.
	ErrQueueClosed = errors.New("claim queue is closed")
)

// ClaimTx is one payout in the claim queue. It is stored as a Redis hash;
// the redis tags name the hash fields.
type ClaimTx struct {
	QueueIdx  int64  `redis:"idx" json:"queueIdx"`
	SessionID string `redis:"session" json:"session"`
	Target    string `redis:"target" json:"target"`
	Amount    string `redis:"amount" json:"amount"`
	Status    Status `redis:"status" json:"status"`

	// Set once the transfer is signed, before it is broadcast.
	TxHash  string `redis:"txhash" json:"txhash,omitempty"`
	TxNonce uint64 `redis:"txnonce" json:"txnonce,omitempty"`
	RawTx   string `redis:"rawtx" json:"-"`

	TxBlock uint64 `redis:"txblock" json:"txblock,omitempty"`
	TxFee   string `redis:"txfee" json:"txfee,omitempty"`

	FailCode   string `redis:"failcode" json:"failCode,omitempty"`
	FailReason string `redis:"failreason" json:"failReason,omitempty"`

	Attempts  int   `redis:"attempts" json:"attempts"`
	CreatedAt int64 `redis:"created" json:"created"`
	UpdatedAt int64 `redis:"updated" json:"updated"`
}

// IsSigned reports whether a signed transaction was persisted for the claim.
func (c *ClaimTx) IsSigned() bool {
	return c.RawTx != "" && c.TxHash != ""
}

// PreparedTx is a signed transfer ready for broadcast.
type PreparedTx struct {
	Hash  string
	Nonce uint64
	Raw   []byte
}

// Receipt is the on-chain outcome of a mined transaction.
type Receipt struct {
	BlockNumber uint64
	Success     bool
	Fee         *big.Int
}

// Wallet signs and submits payouts from the faucet wallet.
type Wallet interface {
	// Address returns the faucet wallet address.
	Address() string

	// PrepareTransfer signs a transfer of amount to target using the next nonce.
	PrepareTransfer(ctx context.Context, target string, amount *big.Int) (*PreparedTx, error)

	// Broadcast submits a signed transaction. Resubmitting an already known
	// transaction is not an error.
	Broadcast(ctx context.Context, raw []byte) error

	// TransactionKnown reports whether the node knows the transaction,
	// pending or mined.
	TransactionKnown(ctx context.Context, hash string) (bool, error)

	// AwaitReceipt blocks until the transaction is mined or ctx is done.
	AwaitReceipt(ctx context.Context, hash string) (*Receipt, error)
}

// SessionSink receives claim results for the owning session. It is
// implemented by the session manager.
type SessionSink interface {
	ClaimProcessing(ctx context.Context, sessionID, txHash string) error
	ClaimConfirmed(ctx context.Context, sessionID, txHash string, txBlock uint64, txFee string) error
	ClaimFailed(ctx context.Context, sessionID, code, reason string) error
}

// LaneOwner reports whether this instance may drive the claim lane.
type LaneOwner interface {
	IsLeader() bool
}
