package claim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pokt-network/pocket-faucet/logging"
	"github.com/pokt-network/pocket-faucet/session"
)

const (
	defaultConfirmTimeout   = 5 * time.Minute
	defaultBroadcastRetries = 3
	defaultRetryBackoff     = 2 * time.Second
	defaultMaxRetryBackoff  = 30 * time.Second
	defaultPollInterval     = 2 * time.Second
)

// QueueConfig contains configuration for the claim queue.
type QueueConfig struct {
	// ConfirmTimeout bounds the wait for a mined receipt.
	// Default: 5m
	ConfirmTimeout time.Duration

	// BroadcastRetries is how many times a transient broadcast failure is
	// retried with the same signed transaction.
	// Default: 3
	BroadcastRetries int

	// RetryBackoff is the first retry delay; it doubles up to MaxRetryBackoff.
	// Default: 2s
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the retry delay.
	// Default: 30s
	MaxRetryBackoff time.Duration

	// PollInterval is how often an idle or stalled lane looks for work.
	// Default: 2s
	PollInterval time.Duration
}

// DefaultQueueConfig returns the default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		ConfirmTimeout:   defaultConfirmTimeout,
		BroadcastRetries: defaultBroadcastRetries,
		RetryBackoff:     defaultRetryBackoff,
		MaxRetryBackoff:  defaultMaxRetryBackoff,
		PollInterval:     defaultPollInterval,
	}
}

// Queue is the ordered claim queue with a single outbound lane.
//
// Claims are processed strictly by queue index, one at a time: within the
// process the lane token (a channel of capacity one) serializes processing,
// and across instances only the lane owner drains. Each claim ends confirmed
// or failed; nothing is re-queued.
type Queue struct {
	logger logging.Logger
	config QueueConfig
	store  *Store
	wallet Wallet
	sink   SessionSink
	lane   LaneOwner

	laneToken     chan struct{}
	wake          chan struct{}
	lastProcessed atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error

	// Lifecycle
	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

var _ session.ClaimEnqueuer = (*Queue)(nil)

// NewQueue creates a claim queue. lane may be nil for a single-instance
// deployment, in which case this instance always owns the lane.
func NewQueue(
	logger logging.Logger,
	store *Store,
	wallet Wallet,
	sink SessionSink,
	lane LaneOwner,
	config QueueConfig,
) *Queue {
	defaults := DefaultQueueConfig()
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if config.BroadcastRetries < 0 {
		config.BroadcastRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.MaxRetryBackoff <= 0 {
		config.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	return &Queue{
		logger:    logging.ForComponent(logger, logging.ComponentClaimQueue),
		config:    config,
		store:     store,
		wallet:    wallet,
		sink:      sink,
		lane:      lane,
		laneToken: make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		sleep:     sleepContext,
	}
}

// Enqueue appends a claiming session to the queue and returns its index.
// It does not wait for the payout.
func (q *Queue) Enqueue(ctx context.Context, rec *session.Record) (int64, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	if rec == nil || rec.SessionID == "" || rec.TargetAddr == "" {
		return 0, fmt.Errorf("claim requires a session with a target address")
	}
	amount := rec.Amount()
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("claim for session %s requires a positive amount", rec.SessionID)
	}

	idx, err := q.store.Enqueue(ctx, rec.SessionID, rec.TargetAddr, amount.String())
	if err != nil {
		return 0, err
	}

	claimsEnqueued.Inc()
	pendingClaims.Inc()
	logger := logging.ForClaim(q.logger, rec.SessionID, idx)
	logger.Debug().
		Str(logging.FieldTargetAddr, rec.TargetAddr).
		Str(logging.FieldDropAmount, amount.String()).
		Msg("claim enqueued")

	q.Wake()
	return idx, nil
}

// Wake asks the worker to look for work now instead of at the next poll.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start loads the last processed index and starts the lane worker.
// Claims left processing by a previous run are resumed first.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ctx, q.cancelFn = context.WithCancel(ctx)
	q.mu.Unlock()

	last, err := q.store.LastProcessed(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last processed claim: %w", err)
	}
	q.advanceLast(last)

	pending, err := q.store.PendingCount(ctx)
	if err != nil {
		return err
	}
	pendingClaims.Set(float64(pending))

	q.wg.Add(1)
	go logging.RecoverGoRoutine(q.logger, logging.ComponentClaimWorker, q.workerLoop)(ctx)

	q.logger.Info().
		Int64(logging.FieldLastIdx, last).
		Int64(logging.FieldPendingCount, pending).
		Msg("claim queue started")
	return nil
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		q.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// drain processes claims until the queue is empty, the lane is lost or a
// claim cannot make progress.
func (q *Queue) drain(ctx context.Context) {
	for ctx.Err() == nil && q.ownsLane() {
		processed, err := q.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				q.logger.Warn().Err(err).Msg("claim lane stalled, will retry")
			}
			return
		}
		if !processed {
			return
		}
	}
}

func (q *Queue) ownsLane() bool {
	return q.lane == nil || q.lane.IsLeader()
}

// ProcessNext takes the lane token and drives the lowest pending claim to a
// terminal status. It returns false when the queue is empty. An error means
// the claim is still pending and will be retried.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	select {
	case q.laneToken <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-q.laneToken }()

	tx, err := q.store.NextPending(ctx)
	if err != nil || tx == nil {
		return false, err
	}
	if err := q.process(ctx, tx); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) process(ctx context.Context, tx *ClaimTx) error {
	logger := logging.ForClaim(q.logger, tx.SessionID, tx.QueueIdx)

	amount, ok := new(big.Int).SetString(tx.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return q.fail(ctx, logger, tx, CodeInvalidClaim, "claim has no valid amount")
	}

	if tx.Status == StatusQueued {
		if err := q.store.MarkProcessing(ctx, tx.QueueIdx); err != nil {
			return err
		}
		tx.Status = StatusProcessing
	}

	// Nothing is signed until the session confirms it is still claiming.
	if !tx.IsSigned() {
		if err := q.sink.ClaimProcessing(ctx, tx.SessionID, ""); err != nil {
			if !sessionRejected(err) {
				return fmt.Errorf("failed to update session: %w", err)
			}
			logger.Warn().Err(err).Msg("session no longer claiming, dropping unsigned claim")
			return q.fail(ctx, logger, tx, CodeSessionRejected, fmt.Sprintf("session is no longer claiming: %v", err))
		}
	}

	if tx.IsSigned() {
		known, err := q.wallet.TransactionKnown(ctx, tx.TxHash)
		if err != nil {
			return fmt.Errorf("failed to look up claim transaction %s: %w", tx.TxHash, err)
		}
		if known {
			logger.Info().Str(logging.FieldTxHash, tx.TxHash).Msg("resuming confirmation of known claim transaction")
			return q.await(ctx, logger, tx)
		}
		logger.Info().Str(logging.FieldTxHash, tx.TxHash).Msg("rebroadcasting persisted claim transaction")
	} else {
		prepared, err := q.wallet.PrepareTransfer(ctx, tx.Target, amount)
		if err != nil {
			if Classify(err).IsTransient() {
				return fmt.Errorf("failed to sign claim transaction: %w", err)
			}
			return q.fail(ctx, logger, tx, CodeBroadcastFailed, fmt.Sprintf("failed to sign transaction: %v", err))
		}

		rawHex := hexutil.Encode(prepared.Raw)
		if err := q.store.SaveSigned(ctx, tx.QueueIdx, prepared, rawHex); err != nil {
			return err
		}
		tx.TxHash, tx.TxNonce, tx.RawTx = prepared.Hash, prepared.Nonce, rawHex

		logger.Info().
			Str(logging.FieldTxHash, tx.TxHash).
			Uint64(logging.FieldTxNonce, tx.TxNonce).
			Msg("claim transaction signed")
		if err := q.notifySink(logger, q.sink.ClaimProcessing(ctx, tx.SessionID, tx.TxHash)); err != nil {
			return err
		}
	}

	raw, err := hexutil.Decode(tx.RawTx)
	if err != nil {
		return q.fail(ctx, logger, tx, CodeInvalidClaim, "persisted transaction is malformed")
	}

	sent, err := q.broadcast(ctx, logger, tx, raw)
	if err != nil || !sent {
		return err
	}
	return q.await(ctx, logger, tx)
}

// broadcast submits raw, retrying transient failures with backoff. It
// returns false when the claim was failed.
func (q *Queue) broadcast(ctx context.Context, logger logging.Logger, tx *ClaimTx, raw []byte) (bool, error) {
	for attempt := 1; ; attempt++ {
		if _, err := q.store.IncrAttempts(ctx, tx.QueueIdx); err != nil {
			return false, err
		}

		err := q.wallet.Broadcast(ctx, raw)
		if err == nil || IsAlreadyKnown(err) {
			broadcastAttempts.WithLabelValues("ok").Inc()
			logger.Info().
				Str(logging.FieldTxHash, tx.TxHash).
				Int(logging.FieldAttempt, attempt).
				Msg("claim transaction broadcast")
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		// The nonce may be gone because this very transaction was mined.
		if IsNonceConsumed(err) {
			if known, lookupErr := q.wallet.TransactionKnown(ctx, tx.TxHash); lookupErr == nil && known {
				return true, nil
			}
		}

		decision := Classify(err)
		broadcastAttempts.WithLabelValues(string(decision.Class)).Inc()
		logger.Warn().
			Err(err).
			Str(logging.FieldErrorClass, string(decision.Class)).
			Str(logging.FieldReason, decision.Reason).
			Int(logging.FieldAttempt, attempt).
			Int(logging.FieldMaxRetry, q.config.BroadcastRetries).
			Msg("claim broadcast failed")

		if !decision.IsTransient() || attempt > q.config.BroadcastRetries {
			return false, q.fail(ctx, logger, tx, CodeBroadcastFailed, fmt.Sprintf("failed to broadcast transaction: %v", err))
		}
		if err := q.sleep(ctx, backoffDelay(attempt, q.config.RetryBackoff, q.config.MaxRetryBackoff)); err != nil {
			return false, err
		}
	}
}

// await waits for the receipt and finalizes the claim.
func (q *Queue) await(ctx context.Context, logger logging.Logger, tx *ClaimTx) error {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, q.config.ConfirmTimeout)
	defer cancel()

	receipt, err := q.wallet.AwaitReceipt(waitCtx, tx.TxHash)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return q.fail(ctx, logger, tx, CodeConfirmTimeout,
				fmt.Sprintf("transaction %s was not confirmed within %s", tx.TxHash, q.config.ConfirmTimeout))
		}
		return fmt.Errorf("failed to await claim transaction %s: %w", tx.TxHash, err)
	}
	confirmationSeconds.Observe(time.Since(start).Seconds())

	if !receipt.Success {
		return q.fail(ctx, logger, tx, CodeTxReverted,
			fmt.Sprintf("transaction %s reverted in block %d", tx.TxHash, receipt.BlockNumber))
	}

	fee := "0"
	if receipt.Fee != nil {
		fee = receipt.Fee.String()
	}
	return q.confirm(ctx, logger, tx, receipt.BlockNumber, fee)
}

func (q *Queue) confirm(ctx context.Context, logger logging.Logger, tx *ClaimTx, block uint64, fee string) error {
	if err := q.notifySink(logger, q.sink.ClaimConfirmed(ctx, tx.SessionID, tx.TxHash, block, fee)); err != nil {
		return err
	}

	last, err := q.store.Confirm(ctx, tx.QueueIdx, block, fee)
	if err != nil {
		return err
	}
	q.advanceLast(last)
	pendingClaims.Dec()
	claimsCompleted.WithLabelValues("confirmed", "").Inc()

	logger.Info().
		Str(logging.FieldTxHash, tx.TxHash).
		Uint64(logging.FieldTxBlock, block).
		Str("tx_fee", fee).
		Msg("claim confirmed")
	return nil
}

func (q *Queue) fail(ctx context.Context, logger logging.Logger, tx *ClaimTx, code, reason string) error {
	if err := q.notifySink(logger, q.sink.ClaimFailed(ctx, tx.SessionID, code, reason)); err != nil {
		return err
	}

	last, err := q.store.Fail(ctx, tx.QueueIdx, code, reason)
	if err != nil {
		return err
	}
	q.advanceLast(last)
	pendingClaims.Dec()
	claimsCompleted.WithLabelValues("failed", code).Inc()

	logger.Warn().
		Str(logging.FieldFailCode, code).
		Str(logging.FieldReason, reason).
		Msg("claim failed")
	return nil
}

// notifySink tolerates sessions that already moved on or expired from the
// store; any other error stalls the lane so the result is not lost. It is
// only used once the claim has a transaction.
func (q *Queue) notifySink(logger logging.Logger, err error) error {
	if err == nil {
		return nil
	}
	if sessionRejected(err) {
		logger.Warn().Err(err).Msg("session did not accept claim update")
		return nil
	}
	return fmt.Errorf("failed to update session: %w", err)
}

func sessionRejected(err error) bool {
	return errors.Is(err, session.ErrInvalidTransition) || errors.Is(err, session.ErrSessionNotFound)
}

// advanceLast raises the cached last processed index, never lowering it.
func (q *Queue) advanceLast(idx int64) {
	for {
		current := q.lastProcessed.Load()
		if idx <= current {
			return
		}
		if q.lastProcessed.CompareAndSwap(current, idx) {
			lastProcessedIdx.Set(float64(idx))
			return
		}
	}
}

// LastProcessedIdx returns the highest queue index that reached a terminal
// status. The value never decreases, across restarts included.
func (q *Queue) LastProcessedIdx(ctx context.Context) (int64, error) {
	stored, err := q.store.LastProcessed(ctx)
	if err != nil {
		return q.lastProcessed.Load(), err
	}
	q.advanceLast(stored)
	return q.lastProcessed.Load(), nil
}

// Get returns the claim at idx.
func (q *Queue) Get(ctx context.Context, idx int64) (*ClaimTx, error) {
	return q.store.Get(ctx, idx)
}

// Pending returns the non-terminal claims in queue order.
func (q *Queue) Pending(ctx context.Context) ([]*ClaimTx, error) {
	return q.store.Pending(ctx)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops the worker. A claim in flight stays processing and is resumed
// by the next lane owner.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.cancelFn != nil {
		q.cancelFn()
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info().Msg("claim queue stopped")
}
