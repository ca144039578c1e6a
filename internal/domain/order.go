package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"strings"

	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/ethereum/go-ethereum/common"
)

// Order is the maker-signed order tuple as it travels over the API. Field
// order here is the canonical order used for the id.
type Order struct {
	Salt         string `json:"salt"`
	Maker        string `json:"maker"`
	Receiver     string `json:"receiver"`
	MakerAsset   string `json:"makerAsset"`
	TakerAsset   string `json:"takerAsset"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	MakerTraits  string `json:"makerTraits"`
}

// UnmarshalJSON accepts every field as a JSON string or a JSON number and
// rejects unknown keys.
func (o *Order) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Validationf("order: %v", err)
	}

	fields := o.fieldPtrs()
	for key, val := range raw {
		dst, ok := fields[key]
		if !ok {
			return Validationf("order: unknown field %q", key)
		}
		s, err := scalarString(val)
		if err != nil {
			return Validationf("order.%s: %v", key, err)
		}
		*dst = s
	}
	return nil
}

func (o *Order) fieldPtrs() map[string]*string {
	return map[string]*string{
		"salt":         &o.Salt,
		"maker":        &o.Maker,
		"receiver":     &o.Receiver,
		"makerAsset":   &o.MakerAsset,
		"takerAsset":   &o.TakerAsset,
		"makingAmount": &o.MakingAmount,
		"takingAmount": &o.TakingAmount,
		"makerTraits":  &o.MakerTraits,
	}
}

func scalarString(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		return "", errNotScalar
	}
}

var errNotScalar = errors.New("must be a string or a number")

// Normalize returns the canonical form of o: lowercase 0x addresses and
// base-10 integers. Integers may be given in base 10 or 0x hex and must fit
// in 256 bits.
func (o Order) Normalize() (Order, error) {
	var out Order
	var err error

	ints := []struct {
		name string
		in   string
		out  *string
	}{
		{"salt", o.Salt, &out.Salt},
		{"makingAmount", o.MakingAmount, &out.MakingAmount},
		{"takingAmount", o.TakingAmount, &out.TakingAmount},
		{"makerTraits", o.MakerTraits, &out.MakerTraits},
	}
	for _, f := range ints {
		n, perr := parseUint256(f.name, f.in)
		if perr != nil {
			return Order{}, perr
		}
		*f.out = n.String()
	}

	addrs := []struct {
		name string
		in   string
		out  *string
	}{
		{"maker", o.Maker, &out.Maker},
		{"receiver", o.Receiver, &out.Receiver},
		{"makerAsset", o.MakerAsset, &out.MakerAsset},
		{"takerAsset", o.TakerAsset, &out.TakerAsset},
	}
	for _, f := range addrs {
		if *f.out, err = normalizeAddress(f.name, f.in); err != nil {
			return Order{}, err
		}
	}
	return out, nil
}

// Data parses o into the typed protocol struct.
func (o Order) Data() (lop.OrderData, error) {
	n, err := o.Normalize()
	if err != nil {
		return lop.OrderData{}, err
	}
	salt, _ := parseUint256("salt", n.Salt)
	making, _ := parseUint256("makingAmount", n.MakingAmount)
	taking, _ := parseUint256("takingAmount", n.TakingAmount)
	rawTraits, _ := parseUint256("makerTraits", n.MakerTraits)
	traits, err := lop.NewMakerTraits(rawTraits)
	if err != nil {
		return lop.OrderData{}, Validationf("makerTraits: %v", err)
	}
	return lop.OrderData{
		Salt:         salt,
		Maker:        common.HexToAddress(n.Maker),
		Receiver:     common.HexToAddress(n.Receiver),
		MakerAsset:   common.HexToAddress(n.MakerAsset),
		TakerAsset:   common.HexToAddress(n.TakerAsset),
		MakingAmount: making,
		TakingAmount: taking,
		MakerTraits:  traits,
	}, nil
}

// OrderFromData is the inverse of Data.
func OrderFromData(d lop.OrderData) Order {
	s := d.Struct()
	return Order{
		Salt:         s.Salt,
		Maker:        s.Maker,
		Receiver:     s.Receiver,
		MakerAsset:   s.MakerAsset,
		TakerAsset:   s.TakerAsset,
		MakingAmount: s.MakingAmount,
		TakingAmount: s.TakingAmount,
		MakerTraits:  s.MakerTraits,
	}
}

func parseUint256(name, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, Validationf("%s is required", name)
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		ok = len(s) > 2 && isHex(s[2:])
		if ok {
			_, ok = n.SetString(s[2:], 16)
		}
	} else {
		ok = isDigits(s)
		if ok {
			_, ok = n.SetString(s, 10)
		}
	}
	if !ok {
		return nil, Validationf("%s: %q is not an unsigned integer", name, s)
	}
	if n.BitLen() > 256 {
		return nil, Validationf("%s: value exceeds uint256", name)
	}
	return n, nil
}

func normalizeAddress(name, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Validationf("%s is required", name)
	}
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) || !isHex(s[2:]) {
		return "", Validationf("%s: %q is not a 20-byte hex address", name, s)
	}
	return "0x" + strings.ToLower(s[2:]), nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
