package domain

import (
	"math/big"
	"time"

	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// StoredOrder is the persisted record of a submitted order. Reconstructed is
// derived from Order and Extension and is never serialized.
type StoredOrder struct {
	ID               string           `json:"id"`
	Order            Order            `json:"order"`
	Signature        string           `json:"signature"`
	Extension        string           `json:"extension"`
	Reconstructed    *lop.LimitOrder  `json:"-"`
	Timestamp        time.Time        `json:"timestamp"`
	TriggerPrice     decimal.Decimal  `json:"triggerPrice"`
	TriggerDirection TriggerDirection `json:"triggerDirection"`
}

// IsFillable evaluates the order's trigger against prices.
func (s StoredOrder) IsFillable(prices PairPrice) (bool, error) {
	return IsFillable(s.TriggerDirection, s.TriggerPrice, prices)
}

// Pair returns the maker and taker asset addresses.
func (s StoredOrder) Pair() (maker, taker common.Address) {
	if s.Reconstructed != nil {
		return s.Reconstructed.MakerAsset, s.Reconstructed.TakerAsset
	}
	return common.HexToAddress(s.Order.MakerAsset), common.HexToAddress(s.Order.TakerAsset)
}

// ExpiresAt returns the maker-traits expiration, zero time when the order
// never expires or has not been reconstructed.
func (s StoredOrder) ExpiresAt() time.Time {
	if s.Reconstructed == nil {
		return time.Time{}
	}
	exp := s.Reconstructed.MakerTraits.Expiration()
	if exp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(exp), 0).UTC()
}

// IsExpired reports whether the maker-traits expiration has passed.
func (s StoredOrder) IsExpired(now time.Time) bool {
	return s.Reconstructed != nil && s.Reconstructed.MakerTraits.IsExpired(now)
}

// FillCall is everything fillOrderArgs needs.
type FillCall struct {
	OrderID     string
	Order       lop.ContractOrder
	R           [32]byte
	VS          [32]byte
	Amount      *big.Int
	TakerTraits *big.Int
	Args        []byte
}

// FillResult describes a mined fill.
type FillResult struct {
	OrderID     string
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}
