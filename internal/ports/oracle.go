package ports

import (
	"context"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PriceOracle quotes two tokens in a common currency.
type PriceOracle interface {
	// SpotPrices returns the prices of maker and taker. Transport failures
	// wrap domain.ErrOracleUnavailable; an unquoted token wraps
	// domain.ErrOracleDataMissing.
	SpotPrices(ctx context.Context, maker, taker common.Address) (domain.PairPrice, error)

	// Name identifies the source in logs and metrics.
	Name() string
}
