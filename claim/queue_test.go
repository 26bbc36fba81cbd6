package claim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/pokt-network/pocket-faucet/session"
	"github.com/pokt-network/pocket-faucet/testutil"
)

type QueueTestSuite struct {
	testutil.RedisTestSuite

	store  *Store
	wallet *fakeWallet
	sink   *fakeSink
	queue  *Queue
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}

func (s *QueueTestSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()
	s.store = NewStore(zerolog.Nop(), s.RedisClient)
	s.wallet = newFakeWallet()
	s.sink = &fakeSink{}
	s.queue = s.newQueue(QueueConfig{BroadcastRetries: 2})
}

func (s *QueueTestSuite) TearDownTest() {
	s.queue.Close()
}

func (s *QueueTestSuite) newQueue(config QueueConfig) *Queue {
	q := NewQueue(zerolog.Nop(), s.store, s.wallet, s.sink, nil, config)
	q.sleep = func(context.Context, time.Duration) error { return nil }
	return q
}

func (s *QueueTestSuite) record(seed int) *session.Record {
	return &session.Record{
		SessionID:  testutil.GenerateDeterministicSessionID(seed),
		Status:     session.StatusClaiming,
		TargetAddr: testutil.TestAddress(seed),
		DropAmount: fmt.Sprintf("%d", 1_000+seed),
	}
}

func (s *QueueTestSuite) enqueue(seed int) int64 {
	idx, err := s.queue.Enqueue(s.Ctx, s.record(seed))
	s.Require().NoError(err)
	return idx
}

func (s *QueueTestSuite) processNext() {
	processed, err := s.queue.ProcessNext(s.Ctx)
	s.Require().NoError(err)
	s.Require().True(processed)
}

func (s *QueueTestSuite) requireClaim(idx int64, status Status) *ClaimTx {
	tx, err := s.queue.Get(s.Ctx, idx)
	s.Require().NoError(err)
	s.Require().Equal(status, tx.Status)
	return tx
}

func (s *QueueTestSuite) requireLast(want int64) {
	last, err := s.queue.LastProcessedIdx(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(want, last)
}

func (s *QueueTestSuite) TestEnqueue_Validation() {
	_, err := s.queue.Enqueue(s.Ctx, nil)
	s.Require().Error(err)

	rec := s.record(1)
	rec.TargetAddr = ""
	_, err = s.queue.Enqueue(s.Ctx, rec)
	s.Require().Error(err)

	rec = s.record(1)
	rec.DropAmount = "0"
	_, err = s.queue.Enqueue(s.Ctx, rec)
	s.Require().Error(err)

	s.Require().Equal(int64(0), s.ZCard(s.RedisClient.KB().ClaimPendingKey()))
}

func (s *QueueTestSuite) TestEnqueue_StoresQueuedClaim() {
	idx := s.enqueue(7)
	s.Require().Equal(int64(1), idx)

	tx := s.requireClaim(idx, StatusQueued)
	s.Require().Equal(testutil.GenerateDeterministicSessionID(7), tx.SessionID)
	s.Require().Equal(testutil.TestAddress(7), tx.Target)
	s.Require().Equal("1007", tx.Amount)
	s.Require().False(tx.IsSigned())

	_, err := s.queue.Get(s.Ctx, 99)
	s.Require().ErrorIs(err, ErrClaimNotFound)
}

func (s *QueueTestSuite) TestEnqueue_ConcurrentIndicesAreGapless() {
	n := testutil.GetTestConcurrency()
	indices := make(chan int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			idx, err := s.queue.Enqueue(context.Background(), s.record(seed))
			s.NoError(err)
			indices <- idx
		}(i + 1)
	}
	wg.Wait()
	close(indices)

	var got []int
	for idx := range indices {
		got = append(got, int(idx))
	}
	sort.Ints(got)
	s.Require().Len(got, n)
	for i, idx := range got {
		s.Require().Equal(i+1, idx)
	}

	last, err := s.store.LastIssued(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(n), last)
}

func (s *QueueTestSuite) TestProcessNext_EmptyQueue() {
	processed, err := s.queue.ProcessNext(s.Ctx)
	s.Require().NoError(err)
	s.Require().False(processed)
}

func (s *QueueTestSuite) TestProcessNext_HappyPath() {
	idx := s.enqueue(1)
	s.processNext()

	tx := s.requireClaim(idx, StatusConfirmed)
	s.Require().Equal(uint64(100), tx.TxBlock)
	s.Require().Equal("21000", tx.TxFee)
	s.Require().True(tx.IsSigned())
	s.Require().Equal(1, tx.Attempts)

	s.Require().Equal([]string{"processing", "processing", "confirmed"}, s.sink.kinds())
	s.Require().Equal(tx.TxHash, s.sink.last().txHash)
	s.Require().Equal(uint64(100), s.sink.last().block)

	s.Require().Equal(int64(0), s.ZCard(s.RedisClient.KB().ClaimPendingKey()))
	s.requireLast(idx)
}

func (s *QueueTestSuite) TestProcessNext_FIFO() {
	for seed := 1; seed <= 3; seed++ {
		s.enqueue(seed)
	}
	for i := 0; i < 3; i++ {
		s.processNext()
	}

	s.Require().Equal([]string{testutil.TestAddress(1), testutil.TestAddress(2), testutil.TestAddress(3)}, s.wallet.targets)
	for i, p := range s.wallet.prepared {
		s.Require().Equal(uint64(i), p.Nonce)
	}
	s.requireLast(3)
}

func (s *QueueTestSuite) TestBroadcast_TransientThenSuccess() {
	s.wallet.broadcastErrs = []error{errors.New("dial tcp: connection refused"), nil}
	idx := s.enqueue(1)
	s.processNext()

	tx := s.requireClaim(idx, StatusConfirmed)
	s.Require().Equal(2, tx.Attempts)

	// Both attempts carried the same signed bytes.
	s.Require().Equal(2, s.wallet.broadcastCount())
	s.Require().Equal(s.wallet.broadcasts[0], s.wallet.broadcasts[1])
	s.Require().Equal(1, s.wallet.preparedCount())
}

func (s *QueueTestSuite) TestBroadcast_TerminalFailureAdvancesLane() {
	s.wallet.broadcastErrs = []error{errors.New("insufficient funds for gas * price + value")}
	first := s.enqueue(1)
	second := s.enqueue(2)

	s.processNext()
	tx := s.requireClaim(first, StatusFailed)
	s.Require().Equal(CodeBroadcastFailed, tx.FailCode)
	s.Require().Equal(1, s.wallet.broadcastCount())
	s.Require().Equal(CodeBroadcastFailed, s.sink.last().code)
	s.requireLast(first)

	s.processNext()
	s.requireClaim(second, StatusConfirmed)
	s.requireLast(second)
}

func (s *QueueTestSuite) TestBroadcast_RetriesExhausted() {
	s.wallet.broadcastErrs = []error{
		errors.New("503 service unavailable"),
		errors.New("503 service unavailable"),
		errors.New("503 service unavailable"),
	}
	idx := s.enqueue(1)
	s.processNext()

	tx := s.requireClaim(idx, StatusFailed)
	s.Require().Equal(CodeBroadcastFailed, tx.FailCode)
	s.Require().Equal(3, tx.Attempts, "one attempt plus two retries")
}

func (s *QueueTestSuite) TestBroadcast_AlreadyKnownIsSuccess() {
	s.wallet.broadcastErrs = []error{errors.New("already known")}
	idx := s.enqueue(1)
	s.processNext()
	s.requireClaim(idx, StatusConfirmed)
}

func (s *QueueTestSuite) TestSign_TerminalFailure() {
	s.wallet.prepareErr = errors.New("invalid chain id for signer")
	idx := s.enqueue(1)
	s.processNext()

	tx := s.requireClaim(idx, StatusFailed)
	s.Require().Equal(CodeBroadcastFailed, tx.FailCode)
	s.Require().Zero(s.wallet.broadcastCount())
}

func (s *QueueTestSuite) TestSign_TransientFailureStallsLane() {
	s.wallet.prepareErr = errors.New("i/o timeout")
	idx := s.enqueue(1)

	processed, err := s.queue.ProcessNext(s.Ctx)
	s.Require().Error(err)
	s.Require().False(processed)
	s.requireClaim(idx, StatusProcessing)

	s.wallet.prepareErr = nil
	s.processNext()
	s.requireClaim(idx, StatusConfirmed)
}

func (s *QueueTestSuite) TestConfirm_Reverted() {
	idx := s.enqueue(1)
	s.wallet.receipts[fmt.Sprintf("0x%064x", 1)] = &Receipt{BlockNumber: 55, Success: false}

	s.processNext()
	tx := s.requireClaim(idx, StatusFailed)
	s.Require().Equal(CodeTxReverted, tx.FailCode)
	s.Require().Contains(tx.FailReason, "55")
	s.requireLast(idx)
}

func (s *QueueTestSuite) TestConfirm_Timeout() {
	q := s.newQueue(QueueConfig{ConfirmTimeout: 20 * time.Millisecond})
	defer q.Close()
	s.wallet.awaitBlocks = true

	idx, err := q.Enqueue(s.Ctx, s.record(1))
	s.Require().NoError(err)

	processed, err := q.ProcessNext(s.Ctx)
	s.Require().NoError(err)
	s.Require().True(processed)

	tx := s.requireClaim(idx, StatusFailed)
	s.Require().Equal(CodeConfirmTimeout, tx.FailCode)
}

func (s *QueueTestSuite) TestRecovery_KnownTransactionIsAwaited() {
	idx := s.enqueue(1)
	s.Require().NoError(s.store.MarkProcessing(s.Ctx, idx))
	prepared := &PreparedTx{Hash: "0xabc", Nonce: 9, Raw: []byte("signed")}
	s.Require().NoError(s.store.SaveSigned(s.Ctx, idx, prepared, hexutil.Encode(prepared.Raw)))
	s.wallet.known["0xabc"] = true

	s.processNext()

	tx := s.requireClaim(idx, StatusConfirmed)
	s.Require().Equal("0xabc", tx.TxHash)
	s.Require().Equal(uint64(9), tx.TxNonce)
	s.Require().Zero(s.wallet.preparedCount(), "recovery never signs a second transaction")
	s.Require().Zero(s.wallet.broadcastCount())
}

func (s *QueueTestSuite) TestRecovery_UnknownTransactionIsRebroadcast() {
	idx := s.enqueue(1)
	s.Require().NoError(s.store.MarkProcessing(s.Ctx, idx))
	prepared := &PreparedTx{Hash: "0xdef", Nonce: 3, Raw: []byte("signed-bytes")}
	s.Require().NoError(s.store.SaveSigned(s.Ctx, idx, prepared, hexutil.Encode(prepared.Raw)))

	s.processNext()

	s.requireClaim(idx, StatusConfirmed)
	s.Require().Zero(s.wallet.preparedCount())
	s.Require().Equal([][]byte{[]byte("signed-bytes")}, s.wallet.broadcasts)
}

func (s *QueueTestSuite) TestRecovery_UnsignedProcessingIsSignedFresh() {
	idx := s.enqueue(1)
	s.Require().NoError(s.store.MarkProcessing(s.Ctx, idx))

	s.processNext()
	s.requireClaim(idx, StatusConfirmed)
	s.Require().Equal(1, s.wallet.preparedCount())
}

func (s *QueueTestSuite) TestLastProcessed_MonotonicAcrossRestart() {
	first := s.enqueue(1)
	second := s.enqueue(2)
	s.processNext()
	s.processNext()
	s.requireLast(second)

	// Completing a lower index again never lowers the mark.
	last, err := s.store.Confirm(s.Ctx, first, 100, "21000")
	s.Require().NoError(err)
	s.Require().Equal(second, last)

	restarted := s.newQueue(QueueConfig{})
	defer restarted.Close()
	s.Require().NoError(restarted.Start(s.Ctx))

	got, err := restarted.LastProcessedIdx(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(second, got)
}

func (s *QueueTestSuite) TestSingleLane_UnderConcurrentProcessing() {
	n := 10
	for seed := 1; seed <= n; seed++ {
		s.enqueue(seed)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				processed, err := s.queue.ProcessNext(context.Background())
				if err != nil || !processed {
					return
				}
			}
		}()
	}
	wg.Wait()

	s.Require().Equal(1, s.wallet.maxInFlight, "only one claim may be in flight")
	s.Require().Equal(n, s.wallet.preparedCount())
	s.requireLast(int64(n))
	for i, p := range s.wallet.prepared {
		s.Require().Equal(uint64(i), p.Nonce)
	}
}

func (s *QueueTestSuite) TestSinkErrors() {
	s.Run("session no longer claiming is never paid", func() {
		s.sink.err = fmt.Errorf("wrapped: %w", session.ErrInvalidTransition)
		defer func() { s.sink.err = nil }()

		idx := s.enqueue(1)
		s.processNext()
		tx := s.requireClaim(idx, StatusFailed)
		s.Require().Equal(CodeSessionRejected, tx.FailCode)
		s.Require().Empty(tx.TxHash)
		s.Require().Zero(s.wallet.preparedCount())
		s.Require().Zero(s.wallet.broadcastCount())
	})

	s.Run("missing session is never paid", func() {
		s.sink.err = session.ErrSessionNotFound
		defer func() { s.sink.err = nil }()

		idx := s.enqueue(3)
		s.Require().NoError(s.store.MarkProcessing(s.Ctx, idx))
		s.processNext()
		s.requireClaim(idx, StatusFailed)
		s.Require().Zero(s.wallet.preparedCount())
	})

	s.Run("rejection after signing still confirms", func() {
		idx := s.enqueue(4)
		s.Require().NoError(s.store.MarkProcessing(s.Ctx, idx))
		prepared := &PreparedTx{Hash: "0x1234", Nonce: 5, Raw: []byte("already-signed")}
		s.Require().NoError(s.store.SaveSigned(s.Ctx, idx, prepared, hexutil.Encode(prepared.Raw)))

		s.sink.err = fmt.Errorf("wrapped: %w", session.ErrInvalidTransition)
		defer func() { s.sink.err = nil }()

		s.processNext()
		s.requireClaim(idx, StatusConfirmed)
		s.Require().Equal([][]byte{[]byte("already-signed")}, s.wallet.broadcasts)
	})

	s.Run("other errors stall the lane", func() {
		s.sink.err = errors.New("redis down")
		idx := s.enqueue(2)

		processed, err := s.queue.ProcessNext(s.Ctx)
		s.Require().Error(err)
		s.Require().False(processed)
		s.Require().False(s.requireClaim(idx, StatusProcessing).Status.IsTerminal())

		s.sink.err = nil
		s.processNext()
		s.requireClaim(idx, StatusConfirmed)
	})
}

func (s *QueueTestSuite) TestWorker_DrainsWhenOwningLane() {
	s.Require().NoError(s.queue.Start(s.Ctx))
	idx := s.enqueue(1)

	s.Require().Eventually(func() bool {
		tx, err := s.store.Get(s.Ctx, idx)
		return err == nil && tx.Status == StatusConfirmed
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *QueueTestSuite) TestDrain_SkipsWithoutLane() {
	lane := &fakeLane{}
	q := NewQueue(zerolog.Nop(), s.store, s.wallet, s.sink, lane, QueueConfig{})
	defer q.Close()

	idx, err := q.Enqueue(s.Ctx, s.record(1))
	s.Require().NoError(err)

	q.drain(s.Ctx)
	s.requireClaim(idx, StatusQueued)
	s.Require().Zero(s.wallet.preparedCount())

	lane.leader = true
	q.drain(s.Ctx)
	s.requireClaim(idx, StatusConfirmed)
}

func (s *QueueTestSuite) TestClosedQueueRejects() {
	q := s.newQueue(QueueConfig{})
	q.Close()

	_, err := q.Enqueue(s.Ctx, s.record(1))
	s.Require().ErrorIs(err, ErrQueueClosed)
	s.Require().ErrorIs(q.Start(s.Ctx), ErrQueueClosed)
}

func (s *QueueTestSuite) TestPending() {
	s.enqueue(1)
	s.enqueue(2)
	s.processNext()

	pending, err := s.queue.Pending(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Require().Equal(int64(2), pending[0].QueueIdx)

	count, err := s.store.PendingCount(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), count)
}

func (s *QueueTestSuite) TestNextPending_DropsOrphans() {
	s.Require().NoError(s.RedisClient.ZAdd(s.Ctx, s.RedisClient.KB().ClaimPendingKey(),
		redisZ(0)).Err())
	idx := s.enqueue(1)

	tx, err := s.store.NextPending(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(idx, tx.QueueIdx)
	s.Require().Equal(int64(1), s.ZCard(s.RedisClient.KB().ClaimPendingKey()))
}
