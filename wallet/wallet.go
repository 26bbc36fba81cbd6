package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pokt-network/pocket-faucet/claim"
	"github.com/pokt-network/pocket-faucet/config"
	"github.com/pokt-network/pocket-faucet/logging"
)

const (
	defaultGasLimit            = 21_000
	defaultReceiptPollInterval = 2 * time.Second
	defaultQueryTimeout        = 10 * time.Second
	balanceCacheTTL            = 10 * time.Second
)

// EthClient is the subset of ethclient.Client used by the wallet.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// Config contains the signing and polling settings of the wallet.
type Config struct {
	ChainID             *big.Int
	GasLimit            uint64
	MaxFeePerGas        *big.Int
	ReceiptPollInterval time.Duration
	QueryTimeout        time.Duration
}

// ConfigFrom converts the yaml node settings into a wallet Config.
// A zero chain id is resolved from the node by New.
func ConfigFrom(c config.EthereumConfig) Config {
	cfg := Config{
		GasLimit:            c.GasLimit,
		ReceiptPollInterval: time.Duration(c.ReceiptPollSeconds) * time.Second,
		QueryTimeout:        time.Duration(c.QueryTimeoutSeconds) * time.Second,
	}
	if c.ChainID > 0 {
		cfg.ChainID = big.NewInt(c.ChainID)
	}
	if c.MaxFeeGwei > 0 {
		cfg.MaxFeePerGas = new(big.Int).Mul(big.NewInt(c.MaxFeeGwei), big.NewInt(1_000_000_000))
	}
	return cfg
}

// EthWallet signs and submits payouts from a single secp256k1 account.
// Nonces come from the node's pending state; the claim lane guarantees only
// one transfer is outstanding at a time.
type EthWallet struct {
	logger  logging.Logger
	client  EthClient
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	config  Config

	balanceMu      sync.Mutex
	balance        *big.Int
	balanceFetched time.Time
	now            func() time.Time
}

var _ claim.Wallet = (*EthWallet)(nil)

// Dial connects to the configured JSON-RPC endpoint and builds the wallet.
func Dial(ctx context.Context, logger logging.Logger, c config.EthereumConfig) (*EthWallet, error) {
	if c.RPCURL == "" {
		return nil, errors.New("ethereum rpc_url is required")
	}
	client, err := ethclient.DialContext(ctx, c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum node: %w", err)
	}
	return New(ctx, logger, client, c.PrivateKey, ConfigFrom(c))
}

// New creates a wallet over client using the hex-encoded private key.
func New(ctx context.Context, logger logging.Logger, client EthClient, privateKeyHex string, cfg Config) (*EthWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid faucet private key: %w", err)
	}

	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}

	w := &EthWallet{
		logger:  logging.ForComponent(logger, logging.ComponentWallet),
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		config:  cfg,
		now:     time.Now,
	}

	if cfg.ChainID == nil || cfg.ChainID.Sign() == 0 {
		queryCtx, cancel := w.queryContext(ctx)
		chainID, err := client.ChainID(queryCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to query chain id: %w", err)
		}
		w.config.ChainID = chainID
	}
	w.signer = types.LatestSignerForChainID(w.config.ChainID)

	w.logger.Info().
		Str(logging.FieldAddr, w.address.Hex()).
		Str(logging.FieldChainID, w.config.ChainID.String()).
		Msg("faucet wallet ready")
	return w, nil
}

// Address returns the checksummed faucet address.
func (w *EthWallet) Address() string {
	return w.address.Hex()
}

// ChainID returns the signing chain id.
func (w *EthWallet) ChainID() *big.Int {
	return new(big.Int).Set(w.config.ChainID)
}

func (w *EthWallet) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.config.QueryTimeout)
}

// PrepareTransfer signs a value transfer to target at the pending nonce.
// EIP-1559 fees are used when the chain reports a base fee, legacy gas
// pricing otherwise.
func (w *EthWallet) PrepareTransfer(ctx context.Context, target string, amount *big.Int) (prepared *claim.PreparedTx, err error) {
	start := time.Now()
	defer func() { observeCall("prepare", start, err) }()

	if !common.IsHexAddress(target) {
		return nil, claim.Terminal(fmt.Errorf("invalid target address %q", target))
	}
	to := common.HexToAddress(target)

	queryCtx, cancel := w.queryContext(ctx)
	defer cancel()

	nonce, err := w.client.PendingNonceAt(queryCtx, w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	header, err := w.client.HeaderByNumber(queryCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	var txData types.TxData
	if header.BaseFee != nil {
		tip, err := w.client.SuggestGasTipCap(queryCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas tip: %w", err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)
		if w.config.MaxFeePerGas != nil && feeCap.Cmp(w.config.MaxFeePerGas) > 0 {
			feeCap = new(big.Int).Set(w.config.MaxFeePerGas)
		}
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
		txData = &types.DynamicFeeTx{
			ChainID:   w.config.ChainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       w.config.GasLimit,
			To:        &to,
			Value:     amount,
		}
	} else {
		gasPrice, err := w.client.SuggestGasPrice(queryCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		if w.config.MaxFeePerGas != nil && gasPrice.Cmp(w.config.MaxFeePerGas) > 0 {
			gasPrice = new(big.Int).Set(w.config.MaxFeePerGas)
		}
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      w.config.GasLimit,
			To:       &to,
			Value:    amount,
		}
	}

	signed, err := types.SignNewTx(w.key, w.signer, txData)
	if err != nil {
		return nil, claim.Terminal(fmt.Errorf("failed to sign transfer: %w", err))
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, claim.Terminal(fmt.Errorf("failed to encode transfer: %w", err))
	}

	return &claim.PreparedTx{
		Hash:  signed.Hash().Hex(),
		Nonce: nonce,
		Raw:   raw,
	}, nil
}

// Broadcast submits a signed transaction. "already known" is not an error.
func (w *EthWallet) Broadcast(ctx context.Context, raw []byte) (err error) {
	start := time.Now()
	defer func() { observeCall("broadcast", start, err) }()

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return claim.Terminal(fmt.Errorf("failed to decode signed transfer: %w", err))
	}

	queryCtx, cancel := w.queryContext(ctx)
	defer cancel()

	if err := w.client.SendTransaction(queryCtx, tx); err != nil {
		if claim.IsAlreadyKnown(err) {
			return nil
		}
		return err
	}
	w.invalidateBalance()
	return nil
}

// TransactionKnown reports whether the node has the transaction, pending or mined.
func (w *EthWallet) TransactionKnown(ctx context.Context, hash string) (known bool, err error) {
	start := time.Now()
	defer func() { observeCall("lookup", start, err) }()

	queryCtx, cancel := w.queryContext(ctx)
	defer cancel()

	_, _, err = w.client.TransactionByHash(queryCtx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up transaction %s: %w", hash, err)
	}
	return true, nil
}

// AwaitReceipt polls for the receipt until the transaction is mined or ctx
// is done. Lookup errors are logged and polling continues.
func (w *EthWallet) AwaitReceipt(ctx context.Context, hash string) (*claim.Receipt, error) {
	txHash := common.HexToHash(hash)
	ticker := time.NewTicker(w.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.receipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			w.logger.Debug().
				Err(err).
				Str(logging.FieldTxHash, hash).
				Msg("receipt lookup failed, polling again")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *EthWallet) receipt(ctx context.Context, hash common.Hash) (_ *claim.Receipt, err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, ethereum.NotFound) {
			observeCall("receipt", start, err)
		}
	}()

	queryCtx, cancel := w.queryContext(ctx)
	defer cancel()

	r, err := w.client.TransactionReceipt(queryCtx, hash)
	if err != nil {
		return nil, err
	}

	fee := new(big.Int)
	if r.EffectiveGasPrice != nil {
		fee.Mul(r.EffectiveGasPrice, new(big.Int).SetUint64(r.GasUsed))
	}
	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}
	w.invalidateBalance()

	return &claim.Receipt{
		BlockNumber: block,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		Fee:         fee,
	}, nil
}

// Balance returns the faucet balance, cached briefly.
func (w *EthWallet) Balance(ctx context.Context) (*big.Int, error) {
	w.balanceMu.Lock()
	defer w.balanceMu.Unlock()

	if w.balance != nil && w.now().Sub(w.balanceFetched) < balanceCacheTTL {
		return new(big.Int).Set(w.balance), nil
	}

	queryCtx, cancel := w.queryContext(ctx)
	defer cancel()

	balance, err := w.client.BalanceAt(queryCtx, w.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get faucet balance: %w", err)
	}
	w.balance = balance
	w.balanceFetched = w.now()
	walletBalance.Set(weiToFloat(balance))
	return new(big.Int).Set(balance), nil
}

func (w *EthWallet) invalidateBalance() {
	w.balanceMu.Lock()
	w.balance = nil
	w.balanceMu.Unlock()
}

func weiToFloat(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
