package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() domain.Order {
	return domain.Order{
		Salt:         "102412815605188255137963589083712131355578917092939089683573504",
		Maker:        "0x9aD2f3bBa8bA3b3Ee5f1e6b1c8f7c5a3D4E2f1A0",
		Receiver:     "0x0000000000000000000000000000000000000000",
		MakerAsset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TakerAsset:   "0x4200000000000000000000000000000000000006",
		MakingAmount: "500000",
		TakingAmount: "100000000000000",
		MakerTraits:  "62419173104490761595518734106350460423624806008474431057698124955173240520704",
	}
}

func TestComputeID_Deterministic(t *testing.T) {
	o := sampleOrder()
	a, err := domain.ComputeID(o)
	require.NoError(t, err)
	b, err := domain.ComputeID(o)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeID_EachFieldMatters(t *testing.T) {
	base, err := domain.ComputeID(sampleOrder())
	require.NoError(t, err)

	mutations := map[string]func(*domain.Order){
		"salt":         func(o *domain.Order) { o.Salt = "1" },
		"maker":        func(o *domain.Order) { o.Maker = "0x0000000000000000000000000000000000000001" },
		"receiver":     func(o *domain.Order) { o.Receiver = "0x0000000000000000000000000000000000000002" },
		"makerAsset":   func(o *domain.Order) { o.MakerAsset = "0x0000000000000000000000000000000000000003" },
		"takerAsset":   func(o *domain.Order) { o.TakerAsset = "0x0000000000000000000000000000000000000004" },
		"makingAmount": func(o *domain.Order) { o.MakingAmount = "500001" },
		"takingAmount": func(o *domain.Order) { o.TakingAmount = "1" },
		"makerTraits":  func(o *domain.Order) { o.MakerTraits = "0" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			o := sampleOrder()
			mutate(&o)
			id, err := domain.ComputeID(o)
			require.NoError(t, err)
			assert.NotEqual(t, base, id)
		})
	}
}

func TestComputeID_Normalizes(t *testing.T) {
	o := sampleOrder()
	base, err := domain.ComputeID(o)
	require.NoError(t, err)

	o.MakingAmount = "0x7a120" // 500000
	o.Maker = "0x9ad2f3bba8ba3b3ee5f1e6b1c8f7c5a3d4e2f1a0"
	id, err := domain.ComputeID(o)
	require.NoError(t, err)
	assert.Equal(t, base, id)
}

func TestComputeID_Validation(t *testing.T) {
	cases := map[string]func(*domain.Order){
		"missing salt":      func(o *domain.Order) { o.Salt = "" },
		"negative amount":   func(o *domain.Order) { o.MakingAmount = "-1" },
		"float amount":      func(o *domain.Order) { o.TakingAmount = "1.5" },
		"short address":     func(o *domain.Order) { o.Maker = "0x1234" },
		"address no prefix": func(o *domain.Order) { o.TakerAsset = "4200000000000000000000000000000000000006aa" },
		"overflow": func(o *domain.Order) {
			o.Salt = "0x1" + "0000000000000000000000000000000000000000000000000000000000000000"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := sampleOrder()
			mutate(&o)
			_, err := domain.ComputeID(o)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
		})
	}
}

func TestOrder_UnmarshalJSON(t *testing.T) {
	var o domain.Order
	err := json.Unmarshal([]byte(`{"salt":123,"maker":"0x0000000000000000000000000000000000000001",
		"receiver":"0x0000000000000000000000000000000000000000",
		"makerAsset":"0x0000000000000000000000000000000000000002",
		"takerAsset":"0x0000000000000000000000000000000000000003",
		"makingAmount":"10","takingAmount":20,"makerTraits":"0"}`), &o)
	require.NoError(t, err)
	assert.Equal(t, "123", o.Salt)
	assert.Equal(t, "20", o.TakingAmount)

	err = json.Unmarshal([]byte(`{"salt":"1","extra":"x"}`), &o)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = json.Unmarshal([]byte(`{"salt":{"nested":true}}`), &o)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOrder_DataRoundTrip(t *testing.T) {
	data, err := sampleOrder().Data()
	require.NoError(t, err)
	assert.True(t, data.MakerTraits.HasExtension())

	back := domain.OrderFromData(data)
	norm, err := sampleOrder().Normalize()
	require.NoError(t, err)
	assert.Equal(t, norm, back)
}

func TestIsFillable_Short(t *testing.T) {
	trigger := decimal.RequireFromString("2000")
	cases := []struct {
		ratio string
		want  bool
	}{
		{"1800", true},
		{"2000", false},
		{"2200", false},
	}
	for _, tc := range cases {
		prices := domain.PairPrice{Maker: decimal.NewFromInt(1), Taker: decimal.RequireFromString(tc.ratio)}
		got, err := domain.IsFillable(domain.TriggerShort, trigger, prices)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "ratio %s", tc.ratio)
	}
}

func TestIsFillable_Long(t *testing.T) {
	trigger := decimal.RequireFromString("2000")
	for ratio, want := range map[string]bool{"1800": false, "2000": false, "2200": true} {
		prices := domain.PairPrice{Maker: decimal.NewFromInt(1), Taker: decimal.RequireFromString(ratio)}
		got, err := domain.IsFillable(domain.TriggerLong, trigger, prices)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ratio %s", ratio)
	}
}

func TestIsFillable_SmallRatios(t *testing.T) {
	// Maker WETH at 2600, taker USDC at 1: ratio is ~0.000384, well above 0.0000002.
	trigger := decimal.RequireFromString("0.0000002")
	prices := domain.PairPrice{Maker: decimal.RequireFromString("2600"), Taker: decimal.RequireFromString("1")}
	got, err := domain.IsFillable(domain.TriggerShort, trigger, prices)
	require.NoError(t, err)
	assert.False(t, got)

	prices = domain.PairPrice{Maker: decimal.RequireFromString("10000000"), Taker: decimal.RequireFromString("1")}
	got, err = domain.IsFillable(domain.TriggerShort, trigger, prices)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIsFillable_ZeroMakerPrice(t *testing.T) {
	_, err := domain.IsFillable(domain.TriggerShort, decimal.NewFromInt(1), domain.PairPrice{Taker: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrOracleDataMissing)
}

func TestParseTriggerDirection(t *testing.T) {
	for in, want := range map[string]domain.TriggerDirection{
		"":      domain.TriggerShort,
		"short": domain.TriggerShort,
		"BELOW": domain.TriggerShort,
		"long":  domain.TriggerLong,
		"Above": domain.TriggerLong,
	} {
		got, err := domain.ParseTriggerDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := domain.ParseTriggerDirection("sideways")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStoredOrder_Expiry(t *testing.T) {
	data, err := sampleOrder().Data()
	require.NoError(t, err)
	data.MakerTraits = lop.DefaultMakerTraits().WithExpiration(1_700_000_000)

	s := domain.StoredOrder{Reconstructed: &lop.LimitOrder{OrderData: data}}
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), s.ExpiresAt())
	assert.True(t, s.IsExpired(time.Unix(1_700_000_001, 0)))
	assert.False(t, s.IsExpired(time.Unix(1_699_999_999, 0)))

	assert.False(t, domain.StoredOrder{}.IsExpired(time.Now()))
	assert.True(t, domain.StoredOrder{}.ExpiresAt().IsZero())
}

func TestRevertError(t *testing.T) {
	err := error(&domain.RevertError{Reason: "BadSignature()", TxHash: "0xabc"})
	assert.ErrorIs(t, err, domain.ErrExecutionReverted)

	var re *domain.RevertError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "BadSignature()", re.Reason)
	assert.Contains(t, err.Error(), "0xabc")
}
