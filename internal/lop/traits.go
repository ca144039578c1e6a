package lop

// Bit layouts of the 1inch Limit Order Protocol v4 MakerTraits and TakerTraits
// words.
//
// MakerTraits (uint256):
//   255 NO_PARTIAL_FILLS      254 ALLOW_MULTIPLE_FILLS
//   252 PRE_INTERACTION_CALL  251 POST_INTERACTION_CALL
//   250 NEED_CHECK_EPOCH      249 HAS_EXTENSION
//   248 USE_PERMIT2           247 UNWRAP_WETH
//   [160,200) series  [120,160) nonce or epoch  [80,120) expiration
//   [0,80) low bits of the allowed sender
//
// TakerTraits (uint256):
//   255 MAKER_AMOUNT  254 UNWRAP_WETH  253 SKIP_ORDER_PERMIT  252 USE_PERMIT2
//   251 ARGS_HAS_TARGET
//   [224,248) extension length  [200,224) interaction length
//   [0,185) threshold

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

const (
	noPartialFillsFlag     = 255
	allowMultipleFillsFlag = 254
	preInteractionFlag     = 252
	postInteractionFlag    = 251
	needCheckEpochFlag     = 250
	hasExtensionFlag       = 249
	makerUsePermit2Flag    = 248
	makerUnwrapWETHFlag    = 247

	allowedSenderBits = 80
	expirationOffset  = 80
	expirationBits    = 40
	nonceOffset       = 120
	nonceBits         = 40
	seriesOffset      = 160
	seriesBits        = 40

	makerAmountFlag       = 255
	takerUnwrapWETHFlag   = 254
	skipOrderPermitFlag   = 253
	takerUsePermit2Flag   = 252
	argsHasTargetFlag     = 251
	argsExtensionOffset   = 224
	argsInteractionOffset = 200
	argsLengthBits        = 24
	thresholdBits         = 185
)

// MakerTraits is the packed makerTraits word of an order.
type MakerTraits struct {
	v uint256.Int
}

// NewMakerTraits wraps a raw makerTraits value. It fails if v is negative or
// wider than 256 bits.
func NewMakerTraits(v *big.Int) (MakerTraits, error) {
	var t MakerTraits
	if v == nil {
		return t, nil
	}
	if v.Sign() < 0 {
		return t, fmt.Errorf("lop: negative maker traits")
	}
	if overflow := t.v.SetFromBig(v); overflow {
		return t, fmt.Errorf("lop: maker traits overflow uint256")
	}
	return t, nil
}

// DefaultMakerTraits returns traits with partial and multiple fills allowed.
func DefaultMakerTraits() MakerTraits {
	return MakerTraits{}.withBit(allowMultipleFillsFlag)
}

// BigInt returns the traits as a *big.Int.
func (t MakerTraits) BigInt() *big.Int { return t.v.ToBig() }

// String renders the traits as a base-10 integer.
func (t MakerTraits) String() string { return t.v.Dec() }

func (t MakerTraits) HasExtension() bool        { return bit(&t.v, hasExtensionFlag) }
func (t MakerTraits) NeedPostInteraction() bool { return bit(&t.v, postInteractionFlag) }
func (t MakerTraits) NeedPreInteraction() bool  { return bit(&t.v, preInteractionFlag) }
func (t MakerTraits) AllowPartialFills() bool   { return !bit(&t.v, noPartialFillsFlag) }
func (t MakerTraits) AllowMultipleFills() bool  { return bit(&t.v, allowMultipleFillsFlag) }
func (t MakerTraits) NeedCheckEpoch() bool      { return bit(&t.v, needCheckEpochFlag) }
func (t MakerTraits) UsePermit2() bool          { return bit(&t.v, makerUsePermit2Flag) }
func (t MakerTraits) UnwrapWETH() bool          { return bit(&t.v, makerUnwrapWETHFlag) }

// Expiration returns the unix expiration timestamp, 0 when the order never expires.
func (t MakerTraits) Expiration() uint64 { return field(&t.v, expirationOffset, expirationBits) }

// NonceOrEpoch returns the 40-bit nonce (or epoch) field.
func (t MakerTraits) NonceOrEpoch() uint64 { return field(&t.v, nonceOffset, nonceBits) }

// Series returns the 40-bit series field.
func (t MakerTraits) Series() uint64 { return field(&t.v, seriesOffset, seriesBits) }

// IsPrivate reports whether the order restricts its taker.
func (t MakerTraits) IsPrivate() bool {
	return field(&t.v, 0, 64) != 0 || field(&t.v, 64, allowedSenderBits-64) != 0
}

// IsExpired reports whether the order has an expiration at or before now.
func (t MakerTraits) IsExpired(now time.Time) bool {
	exp := t.Expiration()
	return exp != 0 && uint64(now.Unix()) >= exp
}

func (t MakerTraits) WithExtension() MakerTraits       { return t.withBit(hasExtensionFlag) }
func (t MakerTraits) WithPostInteraction() MakerTraits { return t.withBit(postInteractionFlag) }
func (t MakerTraits) WithPreInteraction() MakerTraits  { return t.withBit(preInteractionFlag) }
func (t MakerTraits) DisablePartialFills() MakerTraits { return t.withBit(noPartialFillsFlag) }

// WithExpiration sets the expiration field. Values wider than 40 bits are truncated.
func (t MakerTraits) WithExpiration(unix uint64) MakerTraits {
	setField(&t.v, expirationOffset, expirationBits, unix)
	return t
}

// WithNonce sets the nonce-or-epoch field.
func (t MakerTraits) WithNonce(nonce uint64) MakerTraits {
	setField(&t.v, nonceOffset, nonceBits, nonce)
	return t
}

func (t MakerTraits) withBit(n uint) MakerTraits {
	one := uint256.NewInt(1)
	t.v.Or(&t.v, one.Lsh(one, n))
	return t
}

// TakerTraits describes how a fill is executed. Encode packs it into the
// takerTraits word plus the args blob expected by fillOrderArgs.
type TakerTraits struct {
	MakerAmount     bool
	UnwrapWETH      bool
	SkipOrderPermit bool
	UsePermit2      bool
	Receiver        *[20]byte
	Extension       []byte
	Interaction     []byte
	Threshold       *big.Int
}

// Encode returns the takerTraits word and the args blob
// (receiver ‖ extension ‖ interaction).
func (t TakerTraits) Encode() (*big.Int, []byte, error) {
	var v uint256.Int
	if len(t.Extension) >= 1<<argsLengthBits {
		return nil, nil, fmt.Errorf("lop: extension too long (%d bytes)", len(t.Extension))
	}
	if len(t.Interaction) >= 1<<argsLengthBits {
		return nil, nil, fmt.Errorf("lop: interaction too long (%d bytes)", len(t.Interaction))
	}
	if t.Threshold != nil {
		if t.Threshold.Sign() < 0 || t.Threshold.BitLen() > thresholdBits {
			return nil, nil, fmt.Errorf("lop: threshold out of range")
		}
		v.SetFromBig(t.Threshold)
	}

	flags := []struct {
		on  bool
		bit uint
	}{
		{t.MakerAmount, makerAmountFlag},
		{t.UnwrapWETH, takerUnwrapWETHFlag},
		{t.SkipOrderPermit, skipOrderPermitFlag},
		{t.UsePermit2, takerUsePermit2Flag},
		{t.Receiver != nil, argsHasTargetFlag},
	}
	for _, f := range flags {
		if f.on {
			one := uint256.NewInt(1)
			v.Or(&v, one.Lsh(one, f.bit))
		}
	}
	setField(&v, argsExtensionOffset, argsLengthBits, uint64(len(t.Extension)))
	setField(&v, argsInteractionOffset, argsLengthBits, uint64(len(t.Interaction)))

	args := make([]byte, 0, 20+len(t.Extension)+len(t.Interaction))
	if t.Receiver != nil {
		args = append(args, t.Receiver[:]...)
	}
	args = append(args, t.Extension...)
	args = append(args, t.Interaction...)
	return v.ToBig(), args, nil
}

func bit(v *uint256.Int, n uint) bool {
	return new(uint256.Int).Rsh(v, n).Uint64()&1 == 1
}

func field(v *uint256.Int, offset, width uint) uint64 {
	shifted := new(uint256.Int).Rsh(v, offset)
	return shifted.Uint64() & (1<<width - 1)
}

func setField(v *uint256.Int, offset, width uint, value uint64) {
	mask := uint256.NewInt(1<<width - 1)
	mask.Lsh(mask, offset)
	v.And(v, new(uint256.Int).Not(mask))

	val := uint256.NewInt(value & (1<<width - 1))
	val.Lsh(val, offset)
	v.Or(v, val)
}
