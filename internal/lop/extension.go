package lop

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ErrMalformedExtension is returned when extension bytes cannot be decoded.
var ErrMalformedExtension = errors.New("lop: malformed extension")

const extensionFieldCount = 8

// Extension holds the dynamic fields an order carries outside of its
// fixed-size struct. Encoded form: a 32-byte offsets word followed by the
// concatenated fields, then CustomData. Field i ends at
// (offsets >> 32*i) & 0xffffffff, measured from the end of the offsets word.
type Extension struct {
	MakerAssetSuffix []byte
	TakerAssetSuffix []byte
	MakingAmountData []byte
	TakingAmountData []byte
	Predicate        []byte
	MakerPermit      []byte
	PreInteraction   []byte
	PostInteraction  []byte
	CustomData       []byte
}

// Interaction is a call target followed by opaque calldata.
type Interaction struct {
	Target common.Address
	Data   []byte
}

// Encode returns target ‖ data.
func (i Interaction) Encode() []byte {
	out := make([]byte, 0, common.AddressLength+len(i.Data))
	out = append(out, i.Target.Bytes()...)
	return append(out, i.Data...)
}

// DecodeInteraction splits b into its 20-byte target and trailing data.
func DecodeInteraction(b []byte) (Interaction, error) {
	if len(b) < common.AddressLength {
		return Interaction{}, fmt.Errorf("%w: interaction shorter than an address (%d bytes)", ErrMalformedExtension, len(b))
	}
	return Interaction{
		Target: common.BytesToAddress(b[:common.AddressLength]),
		Data:   bytes.Clone(b[common.AddressLength:]),
	}, nil
}

// ParseExtension decodes a 0x-prefixed hex extension. "" and "0x" are the
// empty extension.
func ParseExtension(s string) (Extension, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" || s == "0X" {
		return Extension{}, nil
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Extension{}, fmt.Errorf("%w: %v", ErrMalformedExtension, err)
	}
	return DecodeExtension(raw)
}

// DecodeExtension parses the offsets-word encoding.
func DecodeExtension(b []byte) (Extension, error) {
	if len(b) == 0 {
		return Extension{}, nil
	}
	if len(b) < 32 {
		return Extension{}, fmt.Errorf("%w: %d bytes, need at least 32", ErrMalformedExtension, len(b))
	}

	var offsets uint256.Int
	offsets.SetBytes(b[:32])
	body := b[32:]

	var fields [extensionFieldCount][]byte
	prev := uint64(0)
	for i := 0; i < extensionFieldCount; i++ {
		end := field(&offsets, uint(32*i), 32)
		if end < prev || end > uint64(len(body)) {
			return Extension{}, fmt.Errorf("%w: field %d ends at %d (prev %d, body %d)",
				ErrMalformedExtension, i, end, prev, len(body))
		}
		fields[i] = bytes.Clone(body[prev:end])
		prev = end
	}

	return Extension{
		MakerAssetSuffix: fields[0],
		TakerAssetSuffix: fields[1],
		MakingAmountData: fields[2],
		TakingAmountData: fields[3],
		Predicate:        fields[4],
		MakerPermit:      fields[5],
		PreInteraction:   fields[6],
		PostInteraction:  fields[7],
		CustomData:       bytes.Clone(body[prev:]),
	}, nil
}

func (e Extension) fields() [extensionFieldCount][]byte {
	return [extensionFieldCount][]byte{
		e.MakerAssetSuffix,
		e.TakerAssetSuffix,
		e.MakingAmountData,
		e.TakingAmountData,
		e.Predicate,
		e.MakerPermit,
		e.PreInteraction,
		e.PostInteraction,
	}
}

// IsEmpty reports whether every field, including CustomData, is empty.
func (e Extension) IsEmpty() bool {
	for _, f := range e.fields() {
		if len(f) > 0 {
			return false
		}
	}
	return len(e.CustomData) == 0
}

// Encode returns the wire form. The empty extension encodes to no bytes.
func (e Extension) Encode() []byte {
	if e.IsEmpty() {
		return nil
	}
	var offsets uint256.Int
	var body []byte
	for i, f := range e.fields() {
		body = append(body, f...)
		setField(&offsets, uint(32*i), 32, uint64(len(body)))
	}
	word := offsets.Bytes32()
	out := make([]byte, 0, 32+len(body)+len(e.CustomData))
	out = append(out, word[:]...)
	out = append(out, body...)
	return append(out, e.CustomData...)
}

// Hex returns the 0x-prefixed wire form, "0x" for the empty extension.
func (e Extension) Hex() string {
	return hexutil.Encode(e.Encode())
}

// Hash is keccak256 of the encoded extension.
func (e Extension) Hash() common.Hash {
	return crypto.Keccak256Hash(e.Encode())
}

// PostInteractionCall splits the post-interaction field. ok is false when
// the field is empty.
func (e Extension) PostInteractionCall() (call Interaction, ok bool, err error) {
	if len(e.PostInteraction) == 0 {
		return Interaction{}, false, nil
	}
	call, err = DecodeInteraction(e.PostInteraction)
	if err != nil {
		return Interaction{}, false, err
	}
	return call, true, nil
}
