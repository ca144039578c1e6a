package lop

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidSignature is returned for signatures that are neither 65-byte
// r ‖ s ‖ v nor 64-byte EIP-2098 r ‖ vs.
var ErrInvalidSignature = errors.New("lop: invalid signature encoding")

// CompactSignature is the EIP-2098 form consumed by fillOrderArgs.
type CompactSignature struct {
	R  [32]byte
	VS [32]byte
}

// ParseSignature decodes a 0x-prefixed signature and checks its shape.
func ParseSignature(s string) ([]byte, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if _, err := Compact(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Compact converts sig to r ‖ vs. A 65-byte input needs v in {0, 1, 27, 28}
// and a clear top bit in s; a 64-byte input is taken as already compact.
func Compact(sig []byte) (CompactSignature, error) {
	var c CompactSignature
	switch len(sig) {
	case 64:
		copy(c.R[:], sig[:32])
		copy(c.VS[:], sig[32:])
		return c, nil
	case 65:
	default:
		return c, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	var parity byte
	switch v := sig[64]; v {
	case 0, 27:
		parity = 0
	case 1, 28:
		parity = 1
	default:
		return c, fmt.Errorf("%w: v=%d", ErrInvalidSignature, v)
	}
	if sig[32]&0x80 != 0 {
		return c, fmt.Errorf("%w: s has its high bit set", ErrInvalidSignature)
	}

	copy(c.R[:], sig[:32])
	copy(c.VS[:], sig[32:64])
	if parity == 1 {
		c.VS[0] |= 0x80
	}
	return c, nil
}

// Expand returns the 65-byte r ‖ s ‖ v form with v in {27, 28}.
func (c CompactSignature) Expand() []byte {
	out := make([]byte, 65)
	copy(out[:32], c.R[:])
	copy(out[32:64], c.VS[:])
	out[32] &= 0x7f
	out[64] = 27 + c.VS[0]>>7
	return out
}
