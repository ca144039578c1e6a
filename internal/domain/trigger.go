package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TriggerDirection selects which side of the trigger price makes an order
// fillable.
type TriggerDirection string

const (
	// TriggerLong fires when the ratio rises above the trigger price.
	TriggerLong TriggerDirection = "long"
	// TriggerShort fires when the ratio drops below the trigger price. Default
	// for liquidation protection.
	TriggerShort TriggerDirection = "short"
)

// ratioPrecision is the number of fractional digits kept by PairPrice.Ratio.
const ratioPrecision = 24

// ParseTriggerDirection accepts long/above and short/below, case-insensitive.
// Empty means short.
func ParseTriggerDirection(s string) (TriggerDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "short", "below":
		return TriggerShort, nil
	case "long", "above":
		return TriggerLong, nil
	default:
		return "", Validationf("triggerDirection: %q is not long or short", s)
	}
}

// PairPrice holds quotes for the two assets of an order in one quote currency.
type PairPrice struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Ratio is Taker/Maker.
func (p PairPrice) Ratio() (decimal.Decimal, error) {
	if p.Maker.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: maker asset price is %s", ErrOracleDataMissing, p.Maker)
	}
	if p.Taker.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative taker asset price", ErrOracleDataMissing)
	}
	return p.Taker.DivRound(p.Maker, ratioPrecision), nil
}

// IsFillable evaluates the trigger predicate. Both comparisons are strict: a
// ratio equal to the trigger never fires.
func IsFillable(direction TriggerDirection, trigger decimal.Decimal, prices PairPrice) (bool, error) {
	ratio, err := prices.Ratio()
	if err != nil {
		return false, err
	}
	switch direction {
	case TriggerLong:
		return trigger.LessThan(ratio), nil
	case TriggerShort, "":
		return trigger.GreaterThan(ratio), nil
	default:
		return false, Validationf("unknown trigger direction %q", direction)
	}
}
