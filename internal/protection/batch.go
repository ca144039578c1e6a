// Package protection builds and decodes the post-interaction payload of a
// liquidation-protection order: a Multicall3 aggregate3 batch that approves
// the lending pool, forwards the proceeds to a relay, and supplies them to
// Aave on behalf of the position owner.
package protection

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedBatch is returned when extra data is not a multicall batch.
var ErrMalformedBatch = errors.New("protection: malformed batch")

const abiJSON = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"supply","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
	           {"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],
	 "outputs":[]},
	{"name":"aggregate3","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"calls","type":"tuple[]","components":[
	   {"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],
	 "outputs":[{"name":"returnData","type":"tuple[]","components":[
	   {"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("protection: parse ABI: %v", err))
	}
}

// Call is one Multicall3 Call3 entry.
type Call struct {
	Target       common.Address `json:"target"`
	AllowFailure bool           `json:"allowFailure"`
	CallData     []byte         `json:"-"`
}

// Plan describes the protection action run after a fill. Asset is the token
// the maker receives (the order's taker asset).
type Plan struct {
	Multicall    common.Address
	Pool         common.Address
	Relay        common.Address
	Asset        common.Address
	Amount       *big.Int
	OnBehalfOf   common.Address
	ReferralCode uint16
}

// Calls returns approve(pool) → transfer(relay) → supply(pool), in that order.
func (p Plan) Calls() ([]Call, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("protection.Plan: amount must be positive")
	}
	approve, err := parsedABI.Pack("approve", p.Pool, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("protection.Plan: pack approve: %w", err)
	}
	transfer, err := parsedABI.Pack("transfer", p.Relay, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("protection.Plan: pack transfer: %w", err)
	}
	supply, err := parsedABI.Pack("supply", p.Asset, p.Amount, p.OnBehalfOf, p.ReferralCode)
	if err != nil {
		return nil, fmt.Errorf("protection.Plan: pack supply: %w", err)
	}
	return []Call{
		{Target: p.Asset, CallData: approve},
		{Target: p.Asset, CallData: transfer},
		{Target: p.Pool, CallData: supply},
	}, nil
}

// ExtraData returns multicall ‖ aggregate3(calls), the post-interaction
// extra data for p.
func (p Plan) ExtraData() ([]byte, error) {
	calls, err := p.Calls()
	if err != nil {
		return nil, err
	}
	return EncodeExtraData(p.Multicall, calls)
}

type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// EncodeExtraData packs calls into aggregate3 calldata prefixed by the
// multicall address.
func EncodeExtraData(multicall common.Address, calls []Call) ([]byte, error) {
	tuple := make([]call3, len(calls))
	for i, c := range calls {
		tuple[i] = call3{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}
	data, err := parsedABI.Pack("aggregate3", tuple)
	if err != nil {
		return nil, fmt.Errorf("protection.EncodeExtraData: pack aggregate3: %w", err)
	}
	out := make([]byte, 0, common.AddressLength+len(data))
	out = append(out, multicall.Bytes()...)
	return append(out, data...), nil
}

// Batch is a decoded post-interaction payload.
type Batch struct {
	Multicall common.Address `json:"multicall"`
	Calls     []DecodedCall  `json:"calls"`
}

// DecodedCall names a batch entry when its selector is known.
type DecodedCall struct {
	Call
	Method string            `json:"method,omitempty"`
	Args   map[string]string `json:"args,omitempty"`
	Data   string            `json:"callData"`
}

// DecodeExtraData parses multicall ‖ aggregate3 calldata.
func DecodeExtraData(b []byte) (Batch, error) {
	if len(b) < common.AddressLength+4 {
		return Batch{}, fmt.Errorf("%w: %d bytes", ErrMalformedBatch, len(b))
	}
	body := b[common.AddressLength:]
	method := parsedABI.Methods["aggregate3"]
	if !bytes.Equal(body[:4], method.ID) {
		return Batch{}, fmt.Errorf("%w: selector 0x%x is not aggregate3", ErrMalformedBatch, body[:4])
	}
	values, err := method.Inputs.Unpack(body[4:])
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}

	var raw []call3
	if err := method.Inputs.Copy(&raw, values); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}

	batch := Batch{Multicall: common.BytesToAddress(b[:common.AddressLength])}
	for _, c := range raw {
		batch.Calls = append(batch.Calls, describe(Call(c)))
	}
	return batch, nil
}

func describe(c Call) DecodedCall {
	d := DecodedCall{Call: c, Data: fmt.Sprintf("0x%x", c.CallData)}
	if len(c.CallData) < 4 {
		return d
	}
	m, err := parsedABI.MethodById(c.CallData[:4])
	if err != nil || m.Name == "aggregate3" {
		return d
	}
	args := make(map[string]any)
	if err := m.Inputs.UnpackIntoMap(args, c.CallData[4:]); err != nil {
		return d
	}
	d.Method = m.Name
	d.Args = make(map[string]string, len(args))
	for k, v := range args {
		switch t := v.(type) {
		case common.Address:
			d.Args[k] = strings.ToLower(t.Hex())
		default:
			d.Args[k] = fmt.Sprint(t)
		}
	}
	return d
}

// Deployment is the pair of contracts a protection batch is expected to use.
type Deployment struct {
	Multicall common.Address
	Pool      common.Address
}

// Mismatches lists the ways b departs from d. Zero addresses in d are not
// checked.
func (b Batch) Mismatches(d Deployment) []string {
	var out []string
	if d.Multicall != (common.Address{}) && b.Multicall != d.Multicall {
		out = append(out, fmt.Sprintf("multicall %s, expected %s", lower(b.Multicall), lower(d.Multicall)))
	}
	if d.Pool == (common.Address{}) {
		return out
	}
	pool := lower(d.Pool)
	for i, c := range b.Calls {
		switch c.Method {
		case "approve":
			if c.Args["spender"] != pool {
				out = append(out, fmt.Sprintf("call %d approves %s, expected pool %s", i, c.Args["spender"], pool))
			}
		case "supply":
			if c.Target != d.Pool {
				out = append(out, fmt.Sprintf("call %d supplies to %s, expected pool %s", i, lower(c.Target), pool))
			}
		}
	}
	return out
}

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }
