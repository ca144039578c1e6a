package onchain

// On-chain fill executor for the 1inch Limit Order Protocol.
//
// fillOrderArgs(order, r, vs, amount, takerTraits, args) is sent from the
// filler account as a legacy transaction:
//   - nonce, gas estimation, signing, and broadcast run under one mutex so
//     concurrent fills never reuse a nonce
//   - a failed gas estimation is decoded into a revert reason, nothing is sent
//   - the receipt is polled until mined or the receipt timeout expires

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultReceiptTimeout  = 60 * time.Second
	defaultReceiptInterval = 3 * time.Second
	defaultGasPriceTTL     = 30 * time.Second
	fallbackGasPriceWei    = 100_000_000 // 0.1 gwei, Base-scale
)

var lopABI abi.ABI

func init() {
	var err error
	lopABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "fillOrderArgs",
			"type": "function",
			"stateMutability": "payable",
			"inputs": [
				{"name": "order", "type": "tuple", "components": [
					{"name": "salt", "type": "uint256"},
					{"name": "maker", "type": "uint256"},
					{"name": "receiver", "type": "uint256"},
					{"name": "makerAsset", "type": "uint256"},
					{"name": "takerAsset", "type": "uint256"},
					{"name": "makingAmount", "type": "uint256"},
					{"name": "takingAmount", "type": "uint256"},
					{"name": "makerTraits", "type": "uint256"}
				]},
				{"name": "r", "type": "bytes32"},
				{"name": "vs", "type": "bytes32"},
				{"name": "amount", "type": "uint256"},
				{"name": "takerTraits", "type": "uint256"},
				{"name": "args", "type": "bytes"}
			],
			"outputs": [
				{"name": "makingAmount", "type": "uint256"},
				{"name": "takingAmount", "type": "uint256"},
				{"name": "orderHash", "type": "bytes32"}
			]
		}
	]`))
	if err != nil {
		panic("lop abi parse: " + err.Error())
	}
}

// Backend is the subset of *ethclient.Client the filler needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures a Filler.
type Config struct {
	ChainID            int64
	LimitOrderProtocol common.Address
	ReceiptTimeout     time.Duration
	ReceiptInterval    time.Duration
	GasPriceTTL        time.Duration
	GasBufferPct       int64 // added to the gas estimate, 20 by default
}

// Filler implements ports.FillSubmitter.
type Filler struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	cfg     Config

	sendMu sync.Mutex

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewFiller builds a filler for the hex private key (with or without 0x).
func NewFiller(backend Backend, privateKeyHex string, cfg Config) (*Filler, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewFiller: invalid private key: %w", err)
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("onchain.NewFiller: chain id is required")
	}
	if cfg.LimitOrderProtocol == (common.Address{}) {
		return nil, errors.New("onchain.NewFiller: limit order protocol address is required")
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = defaultReceiptInterval
	}
	if cfg.GasPriceTTL <= 0 {
		cfg.GasPriceTTL = defaultGasPriceTTL
	}
	if cfg.GasBufferPct <= 0 {
		cfg.GasBufferPct = 20
	}
	return &Filler{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		cfg:     cfg,
	}, nil
}

// TakerAddress is the filler account.
func (f *Filler) TakerAddress() common.Address { return f.address }

// PackFill encodes the fillOrderArgs calldata.
func PackFill(call domain.FillCall) ([]byte, error) {
	return lopABI.Pack("fillOrderArgs", call.Order, call.R, call.VS, call.Amount, call.TakerTraits, call.Args)
}

// SubmitFill sends fillOrderArgs and waits for the receipt.
func (f *Filler) SubmitFill(ctx context.Context, call domain.FillCall) (domain.FillResult, error) {
	result := domain.FillResult{OrderID: call.OrderID}

	data, err := PackFill(call)
	if err != nil {
		return result, fmt.Errorf("onchain.SubmitFill: pack: %w", err)
	}

	signed, err := f.send(ctx, f.cfg.LimitOrderProtocol, data)
	if err != nil {
		return result, err
	}
	result.TxHash = signed.Hash()
	slog.Info("onchain: fill sent", "order_id", call.OrderID, "tx", signed.Hash().Hex(), "nonce", signed.Nonce())

	// The transaction is out; only ReceiptTimeout may stop the wait.
	receiptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.ReceiptTimeout)
	defer cancel()

	receipt, err := f.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return result, fmt.Errorf("onchain.SubmitFill: %w: tx %s not confirmed: %v",
			domain.ErrFillTransactionFailed, signed.Hash().Hex(), err)
	}
	result.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := f.replayRevert(receiptCtx, data, receipt.BlockNumber)
		return result, &domain.RevertError{Reason: reason, TxHash: signed.Hash().Hex()}
	}

	slog.Info("onchain: fill confirmed",
		"order_id", call.OrderID,
		"tx", signed.Hash().Hex(),
		"block", result.BlockNumber,
		"gas_used", result.GasUsed,
	)
	return result, nil
}

// send prices, estimates, signs and broadcasts a call from the filler
// account. The nonce is read and consumed under sendMu.
func (f *Filler) send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	gasPrice := f.getGasPrice(ctx)

	gasEstimate, err := f.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     f.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, &domain.RevertError{Reason: reason}
		}
		return nil, fmt.Errorf("onchain.send: %w: estimate gas: %v", domain.ErrFillTransactionFailed, err)
	}
	gasLimit := gasEstimate * uint64(100+f.cfg.GasBufferPct) / 100

	nonce, err := f.backend.PendingNonceAt(ctx, f.address)
	if err != nil {
		return nil, fmt.Errorf("onchain.send: %w: nonce: %v", domain.ErrFillTransactionFailed, err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, f.signer, f.key)
	if err != nil {
		return nil, fmt.Errorf("onchain.send: sign tx: %w", err)
	}
	if err := f.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("onchain.send: %w: send tx: %v", domain.ErrFillTransactionFailed, err)
	}
	return signed, nil
}

// replayRevert re-executes a reverted call at its block to recover the reason.
func (f *Filler) replayRevert(ctx context.Context, data []byte, block *big.Int) string {
	to := f.cfg.LimitOrderProtocol
	_, err := f.backend.CallContract(ctx, ethereum.CallMsg{From: f.address, To: &to, Data: data}, block)
	if err == nil {
		return "transaction reverted"
	}
	if reason, ok := revertReason(err); ok {
		return reason
	}
	return err.Error()
}

// revertReason extracts a decoded revert reason from an RPC error.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(s); decErr == nil {
				return lop.DecodeRevert(raw), true
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return err.Error(), true
	}
	return "", false
}

// getGasPrice returns the cached gas price plus 10%, refreshing after
// GasPriceTTL. Falls back to the last known price, then to a fixed floor.
func (f *Filler) getGasPrice(ctx context.Context) *big.Int {
	f.mu.RLock()
	cached := f.cachedGasWei
	updatedAt := f.gasUpdatedAt
	f.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < f.cfg.GasPriceTTL {
		return cached
	}

	price, err := f.backend.SuggestGasPrice(ctx)
	if err != nil {
		slog.Warn("onchain: gas price lookup failed", "err", err)
		if cached != nil {
			return cached
		}
		return big.NewInt(fallbackGasPriceWei)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	f.mu.Lock()
	f.cachedGasWei = buffered
	f.gasUpdatedAt = time.Now()
	f.mu.Unlock()
	return buffered
}

// waitForReceipt polls for a receipt until mined or ctx is done.
func (f *Filler) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(f.cfg.ReceiptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := f.backend.TransactionReceipt(ctx, txHash)
			if err != nil {
				if !errors.Is(err, ethereum.NotFound) {
					slog.Debug("onchain: receipt lookup failed", "tx", txHash.Hex(), "err", err)
				}
				continue
			}
			return receipt, nil
		}
	}
}
