package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// EnsureAllowance makes sure the protocol can pull at least amount of token
// from the filler, approving the max amount when it cannot.
func (f *Filler) EnsureAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	spender := f.cfg.LimitOrderProtocol
	allowance, err := f.erc20Allowance(ctx, token, spender)
	if err != nil {
		return fmt.Errorf("onchain.EnsureAllowance: %w: allowance of %s: %v", domain.ErrFillTransactionFailed, token.Hex(), err)
	}
	if allowance.Cmp(amount) >= 0 {
		slog.Debug("onchain: allowance sufficient", "token", token.Hex(), "allowance", allowance)
		return nil
	}

	slog.Info("onchain: approving limit order protocol", "token", token.Hex(), "current", allowance)
	callData, err := erc20ABI.Pack("approve", spender, maxUint256)
	if err != nil {
		return fmt.Errorf("onchain.EnsureAllowance: pack approve: %w", err)
	}
	signed, err := f.send(ctx, token, callData)
	if err != nil {
		return err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, f.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := f.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return fmt.Errorf("onchain.EnsureAllowance: %w: approve %s not confirmed: %v",
			domain.ErrFillTransactionFailed, signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &domain.RevertError{Reason: "approve reverted", TxHash: signed.Hash().Hex()}
	}
	slog.Info("onchain: approval confirmed", "token", token.Hex(), "tx", signed.Hash().Hex())
	return nil
}

func (f *Filler) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", f.address, spender)
	if err != nil {
		return nil, err
	}
	result, err := f.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", result)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("empty allowance result")
	}
	return vals[0].(*big.Int), nil
}
