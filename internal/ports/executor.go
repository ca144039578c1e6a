package ports

import (
	"context"
	"math/big"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// FillSubmitter sends fillOrderArgs transactions from the filler account.
type FillSubmitter interface {
	// SubmitFill signs and sends the fill, then waits for its receipt.
	// A revert is returned as *domain.RevertError; RPC and confirmation
	// failures wrap domain.ErrFillTransactionFailed.
	SubmitFill(ctx context.Context, call domain.FillCall) (domain.FillResult, error)

	// TakerAddress is the filler account, used as the fill receiver.
	TakerAddress() common.Address
}

// AllowanceManager is implemented by submitters that can approve the
// protocol to pull the taker asset.
type AllowanceManager interface {
	EnsureAllowance(ctx context.Context, token common.Address, amount *big.Int) error
}
