package claim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/redis/go-redis/v9"
)

type fakeWallet struct {
	mu sync.Mutex

	nonce         uint64
	prepareErr    error
	broadcastErrs []error
	awaitErr      error
	awaitBlocks   bool

	prepared   []*PreparedTx
	targets    []string
	broadcasts [][]byte
	hashes     map[string]string
	known      map[string]bool
	receipts   map[string]*Receipt

	inFlight    int
	maxInFlight int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		hashes:   make(map[string]string),
		known:    make(map[string]bool),
		receipts: make(map[string]*Receipt),
	}
}

func (w *fakeWallet) Address() string {
	return "0x52908400098527886E0F7030069857D2E4169EE7"
}

func (w *fakeWallet) PrepareTransfer(_ context.Context, target string, amount *big.Int) (*PreparedTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.prepareErr != nil {
		return nil, w.prepareErr
	}
	nonce := w.nonce
	w.nonce++
	raw := []byte(fmt.Sprintf("transfer:%d:%s:%s", nonce, target, amount))
	tx := &PreparedTx{
		Hash:  fmt.Sprintf("0x%064x", nonce+1),
		Nonce: nonce,
		Raw:   raw,
	}
	w.hashes[string(raw)] = tx.Hash
	w.prepared = append(w.prepared, tx)
	w.targets = append(w.targets, target)
	return tx, nil
}

func (w *fakeWallet) Broadcast(_ context.Context, raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcasts = append(w.broadcasts, raw)
	if len(w.broadcastErrs) > 0 {
		err := w.broadcastErrs[0]
		w.broadcastErrs = w.broadcastErrs[1:]
		if err != nil {
			return err
		}
	}
	if hash, ok := w.hashes[string(raw)]; ok {
		w.known[hash] = true
	}
	return nil
}

func (w *fakeWallet) TransactionKnown(_ context.Context, hash string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known[hash], nil
}

func (w *fakeWallet) AwaitReceipt(ctx context.Context, hash string) (*Receipt, error) {
	w.mu.Lock()
	w.inFlight++
	if w.inFlight > w.maxInFlight {
		w.maxInFlight = w.inFlight
	}
	blocks, awaitErr := w.awaitBlocks, w.awaitErr
	receipt := w.receipts[hash]
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.inFlight--
		w.mu.Unlock()
	}()

	if blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if awaitErr != nil {
		return nil, awaitErr
	}
	if receipt != nil {
		return receipt, nil
	}
	return &Receipt{BlockNumber: 100, Success: true, Fee: big.NewInt(21_000)}, nil
}

func (w *fakeWallet) broadcastCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.broadcasts)
}

func (w *fakeWallet) preparedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prepared)
}

type sinkCall struct {
	kind    string
	session string
	txHash  string
	block   uint64
	code    string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (s *fakeSink) record(call sinkCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, call)
	return nil
}

func (s *fakeSink) ClaimProcessing(_ context.Context, sessionID, txHash string) error {
	return s.record(sinkCall{kind: "processing", session: sessionID, txHash: txHash})
}

func (s *fakeSink) ClaimConfirmed(_ context.Context, sessionID, txHash string, txBlock uint64, _ string) error {
	return s.record(sinkCall{kind: "confirmed", session: sessionID, txHash: txHash, block: txBlock})
}

func (s *fakeSink) ClaimFailed(_ context.Context, sessionID, code, _ string) error {
	return s.record(sinkCall{kind: "failed", session: sessionID, code: code})
}

func (s *fakeSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.kind
	}
	return out
}

func (s *fakeSink) last() sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type fakeLane struct {
	leader bool
}

func (l *fakeLane) IsLeader() bool {
	return l.leader
}

func redisZ(idx int64) redis.Z {
	return redis.Z{Score: float64(idx), Member: idx}
}
