package lop

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrExtensionMismatch is returned when an extension does not belong to the
// order it is paired with.
var ErrExtensionMismatch = errors.New("lop: extension does not match order")

var mask160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// OrderData is the fixed-size order struct signed by the maker.
type OrderData struct {
	Salt         *big.Int
	Maker        common.Address
	Receiver     common.Address
	MakerAsset   common.Address
	TakerAsset   common.Address
	MakingAmount *big.Int
	TakingAmount *big.Int
	MakerTraits  MakerTraits
}

// ContractOrder is the tuple passed to fillOrderArgs. Addresses travel as
// uint256 (the protocol's Address type).
type ContractOrder struct {
	Salt         *big.Int
	Maker        *big.Int
	Receiver     *big.Int
	MakerAsset   *big.Int
	TakerAsset   *big.Int
	MakingAmount *big.Int
	TakingAmount *big.Int
	MakerTraits  *big.Int
}

// OrderStruct is the JSON shape of an order: addresses as lowercase hex,
// integers as base-10 strings.
type OrderStruct struct {
	Salt         string `json:"salt"`
	Maker        string `json:"maker"`
	Receiver     string `json:"receiver"`
	MakerAsset   string `json:"makerAsset"`
	TakerAsset   string `json:"takerAsset"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	MakerTraits  string `json:"makerTraits"`
}

// LimitOrder is an order bound to its extension.
type LimitOrder struct {
	OrderData
	Extension Extension
}

// FromDataAndExtension binds data to ext, enforcing the protocol rules:
//   - HAS_EXTENSION set requires a non-empty extension whose keccak256 low
//     160 bits equal the salt's low 160 bits
//   - HAS_EXTENSION clear requires an empty extension
//   - a post-interaction field requires the POST_INTERACTION flag
func FromDataAndExtension(data OrderData, ext Extension) (*LimitOrder, error) {
	if data.Salt == nil || data.MakingAmount == nil || data.TakingAmount == nil {
		return nil, fmt.Errorf("lop: order has nil integer fields")
	}

	if !data.MakerTraits.HasExtension() {
		if !ext.IsEmpty() {
			return nil, fmt.Errorf("%w: extension supplied but HAS_EXTENSION flag is clear", ErrExtensionMismatch)
		}
		return &LimitOrder{OrderData: data}, nil
	}

	if ext.IsEmpty() {
		return nil, fmt.Errorf("%w: HAS_EXTENSION flag set but extension is empty", ErrExtensionMismatch)
	}
	want := new(big.Int).And(data.Salt, mask160)
	got := new(big.Int).And(new(big.Int).SetBytes(ext.Hash().Bytes()), mask160)
	if want.Cmp(got) != 0 {
		return nil, fmt.Errorf("%w: salt low bits 0x%x, extension hash low bits 0x%x", ErrExtensionMismatch, want, got)
	}
	if len(ext.PostInteraction) > 0 && !data.MakerTraits.NeedPostInteraction() {
		return nil, fmt.Errorf("%w: post-interaction present but POST_INTERACTION flag is clear", ErrExtensionMismatch)
	}
	return &LimitOrder{OrderData: data, Extension: ext}, nil
}

// SaltFor returns a salt whose low 160 bits commit to ext and whose high 96
// bits come from seed. Without an extension the seed is used as is.
func SaltFor(ext Extension, seed *big.Int) *big.Int {
	if seed == nil {
		seed = new(big.Int)
	}
	if ext.IsEmpty() {
		return new(big.Int).And(seed, maskUint256)
	}
	salt := new(big.Int).Lsh(new(big.Int).And(seed, mask96), 160)
	low := new(big.Int).And(new(big.Int).SetBytes(crypto.Keccak256(ext.Encode())), mask160)
	return salt.Or(salt, low)
}

var (
	mask96      = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
	maskUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// ContractTuple converts the order to the fillOrderArgs tuple.
func (o OrderData) ContractTuple() ContractOrder {
	return ContractOrder{
		Salt:         new(big.Int).Set(o.Salt),
		Maker:        addressToInt(o.Maker),
		Receiver:     addressToInt(o.Receiver),
		MakerAsset:   addressToInt(o.MakerAsset),
		TakerAsset:   addressToInt(o.TakerAsset),
		MakingAmount: new(big.Int).Set(o.MakingAmount),
		TakingAmount: new(big.Int).Set(o.TakingAmount),
		MakerTraits:  o.MakerTraits.BigInt(),
	}
}

// Struct renders the order in its JSON shape.
func (o OrderData) Struct() OrderStruct {
	return OrderStruct{
		Salt:         o.Salt.String(),
		Maker:        HexAddress(o.Maker),
		Receiver:     HexAddress(o.Receiver),
		MakerAsset:   HexAddress(o.MakerAsset),
		TakerAsset:   HexAddress(o.TakerAsset),
		MakingAmount: o.MakingAmount.String(),
		TakingAmount: o.TakingAmount.String(),
		MakerTraits:  o.MakerTraits.String(),
	}
}

// PostInteraction returns the post-interaction call, if any.
func (o *LimitOrder) PostInteraction() (Interaction, bool, error) {
	return o.Extension.PostInteractionCall()
}

// HexAddress is the lowercase 0x form of a.
func HexAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func addressToInt(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}
