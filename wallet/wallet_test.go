package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pokt-network/pocket-faucet/claim"
	"github.com/pokt-network/pocket-faucet/config"
	"github.com/pokt-network/pocket-faucet/testutil"
)

type fakeClient struct {
	mu sync.Mutex

	chainID  *big.Int
	nonce    uint64
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	balance  *big.Int
	sendErr  error

	sent         []*types.Transaction
	known        map[common.Hash]bool
	receipts     map[common.Hash]*types.Receipt
	receiptCalls int
	balanceCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		chainID:  big.NewInt(testutil.TestChainID),
		baseFee:  big.NewInt(10_000_000_000),
		tip:      big.NewInt(1_000_000_000),
		gasPrice: big.NewInt(20_000_000_000),
		balance:  testutil.Wei(5),
		known:    make(map[common.Hash]bool),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) {
	return c.chainID, nil
}

func (c *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceCalls++
	return c.balance, nil
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return c.nonce, nil
}

func (c *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: c.baseFee}, nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return c.gasPrice, nil
}

func (c *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return c.tip, nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	c.known[tx.Hash()] = true
	return nil
}

func (c *fakeClient) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known[hash] {
		return nil, false, ethereum.NotFound
	}
	return nil, true, nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptCalls++
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func newTestWallet(t *testing.T, client *fakeClient, cfg Config) *EthWallet {
	t.Helper()
	w, err := New(context.Background(), zerolog.Nop(), client, testutil.TestPrivateKeyHex(1), cfg)
	require.NoError(t, err)
	return w
}

func decode(t *testing.T, raw []byte) *types.Transaction {
	t.Helper()
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx
}

func TestNew(t *testing.T) {
	client := newFakeClient()

	w := newTestWallet(t, client, Config{})
	require.Equal(t, testutil.TestAddress(1), w.Address())
	require.Equal(t, int64(testutil.TestChainID), w.ChainID().Int64(), "chain id resolved from the node")
	require.Equal(t, uint64(defaultGasLimit), w.config.GasLimit)

	w = newTestWallet(t, client, Config{ChainID: big.NewInt(5)})
	require.Equal(t, int64(5), w.ChainID().Int64())

	_, err := New(context.Background(), zerolog.Nop(), client, "not-a-key", Config{})
	require.Error(t, err)

	w, err = New(context.Background(), zerolog.Nop(), client, "0x"+testutil.TestPrivateKeyHex(2), Config{})
	require.NoError(t, err)
	require.Equal(t, testutil.TestAddress(2), w.Address())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.EthereumConfig{
		ChainID:             10,
		GasLimit:            30_000,
		MaxFeeGwei:          50,
		ReceiptPollSeconds:  3,
		QueryTimeoutSeconds: 4,
	})
	require.Equal(t, int64(10), cfg.ChainID.Int64())
	require.Equal(t, uint64(30_000), cfg.GasLimit)
	require.Equal(t, "50000000000", cfg.MaxFeePerGas.String())
	require.Equal(t, 3*time.Second, cfg.ReceiptPollInterval)
	require.Equal(t, 4*time.Second, cfg.QueryTimeout)

	require.Nil(t, ConfigFrom(config.EthereumConfig{}).ChainID)
	require.Nil(t, ConfigFrom(config.EthereumConfig{}).MaxFeePerGas)
}

func TestPrepareTransfer_DynamicFee(t *testing.T) {
	client := newFakeClient()
	client.nonce = 7
	w := newTestWallet(t, client, Config{})

	target := testutil.TestAddress(9)
	prepared, err := w.PrepareTransfer(context.Background(), target, testutil.Wei(1))
	require.NoError(t, err)
	require.Equal(t, uint64(7), prepared.Nonce)

	tx := decode(t, prepared.Raw)
	require.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	require.Equal(t, prepared.Hash, tx.Hash().Hex())
	require.Equal(t, common.HexToAddress(target), *tx.To())
	require.Equal(t, testutil.Wei(1).String(), tx.Value().String())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(defaultGasLimit), tx.Gas())
	require.Equal(t, "21000000000", tx.GasFeeCap().String(), "2x base fee plus tip")
	require.Equal(t, client.tip.String(), tx.GasTipCap().String())

	sender, err := types.Sender(types.LatestSignerForChainID(client.chainID), tx)
	require.NoError(t, err)
	require.Equal(t, testutil.TestAddress(1), sender.Hex())
}

func TestPrepareTransfer_FeeCap(t *testing.T) {
	client := newFakeClient()
	client.tip = big.NewInt(30_000_000_000)
	w := newTestWallet(t, client, Config{MaxFeePerGas: big.NewInt(15_000_000_000)})

	prepared, err := w.PrepareTransfer(context.Background(), testutil.TestAddress(9), big.NewInt(1))
	require.NoError(t, err)

	tx := decode(t, prepared.Raw)
	require.Equal(t, "15000000000", tx.GasFeeCap().String())
	require.Equal(t, "15000000000", tx.GasTipCap().String(), "tip never exceeds the fee cap")
}

func TestPrepareTransfer_Legacy(t *testing.T) {
	client := newFakeClient()
	client.baseFee = nil
	w := newTestWallet(t, client, Config{})

	prepared, err := w.PrepareTransfer(context.Background(), testutil.TestAddress(9), big.NewInt(1))
	require.NoError(t, err)

	tx := decode(t, prepared.Raw)
	require.Equal(t, uint8(types.LegacyTxType), tx.Type())
	require.Equal(t, client.gasPrice.String(), tx.GasPrice().String())
	require.Equal(t, client.chainID.String(), tx.ChainId().String())
}

func TestPrepareTransfer_InvalidTargetIsTerminal(t *testing.T) {
	w := newTestWallet(t, newFakeClient(), Config{})

	_, err := w.PrepareTransfer(context.Background(), "0x1234", big.NewInt(1))
	require.Error(t, err)
	require.False(t, claim.Classify(err).IsTransient())
}

func TestBroadcastAndLookup(t *testing.T) {
	client := newFakeClient()
	w := newTestWallet(t, client, Config{})
	ctx := context.Background()

	prepared, err := w.PrepareTransfer(ctx, testutil.TestAddress(9), big.NewInt(1))
	require.NoError(t, err)

	known, err := w.TransactionKnown(ctx, prepared.Hash)
	require.NoError(t, err)
	require.False(t, known)

	require.NoError(t, w.Broadcast(ctx, prepared.Raw))
	require.Len(t, client.sent, 1)

	known, err = w.TransactionKnown(ctx, prepared.Hash)
	require.NoError(t, err)
	require.True(t, known)

	client.sendErr = errors.New("already known")
	require.NoError(t, w.Broadcast(ctx, prepared.Raw))

	client.sendErr = errors.New("insufficient funds for gas * price + value")
	require.Error(t, w.Broadcast(ctx, prepared.Raw))

	err = w.Broadcast(ctx, []byte{0x01, 0x02})
	require.Error(t, err)
	require.False(t, claim.Classify(err).IsTransient())
}

func TestAwaitReceipt(t *testing.T) {
	client := newFakeClient()
	w := newTestWallet(t, client, Config{ReceiptPollInterval: time.Millisecond})
	hash := common.HexToHash("0x01")

	go func() {
		time.Sleep(10 * time.Millisecond)
		client.mu.Lock()
		client.receipts[hash] = &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			BlockNumber:       big.NewInt(42),
			GasUsed:           21_000,
			EffectiveGasPrice: big.NewInt(2),
		}
		client.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipt, err := w.AwaitReceipt(ctx, hash.Hex())
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.Equal(t, uint64(42), receipt.BlockNumber)
	require.Equal(t, "42000", receipt.Fee.String())
}

func TestAwaitReceipt_Reverted(t *testing.T) {
	client := newFakeClient()
	w := newTestWallet(t, client, Config{})
	hash := common.HexToHash("0x02")
	client.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(3)}

	receipt, err := w.AwaitReceipt(context.Background(), hash.Hex())
	require.NoError(t, err)
	require.False(t, receipt.Success)
	require.Equal(t, "0", receipt.Fee.String())
}

func TestAwaitReceipt_ContextDone(t *testing.T) {
	w := newTestWallet(t, newFakeClient(), Config{ReceiptPollInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.AwaitReceipt(ctx, common.HexToHash("0x03").Hex())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBalance_Cached(t *testing.T) {
	client := newFakeClient()
	w := newTestWallet(t, client, Config{})
	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		balance, err := w.Balance(context.Background())
		require.NoError(t, err)
		require.Equal(t, testutil.Wei(5).String(), balance.String())
	}
	require.Equal(t, 1, client.balanceCalls)

	now = now.Add(balanceCacheTTL + time.Second)
	_, err := w.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, client.balanceCalls)

	w.invalidateBalance()
	_, err = w.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, client.balanceCalls)
}
