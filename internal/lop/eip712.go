package lop

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "1inch Aggregation Router"
	DomainVersion = "6"
)

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "makerAsset", Type: "address"},
		{Name: "takerAsset", Type: "address"},
		{Name: "makingAmount", Type: "uint256"},
		{Name: "takingAmount", Type: "uint256"},
		{Name: "makerTraits", Type: "uint256"},
	},
}

// TypedData builds the EIP-712 payload a maker signs for o.
func (o OrderData) TypedData(chainID int64, verifyingContract common.Address) apitypes.TypedData {
	s := o.Struct()
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":         s.Salt,
			"maker":        s.Maker,
			"receiver":     s.Receiver,
			"makerAsset":   s.MakerAsset,
			"takerAsset":   s.TakerAsset,
			"makingAmount": s.MakingAmount,
			"takingAmount": s.TakingAmount,
			"makerTraits":  s.MakerTraits,
		},
	}
}

// Hash returns the EIP-712 digest keccak256(0x1901 ‖ domainSeparator ‖ structHash).
func (o OrderData) Hash(chainID int64, verifyingContract common.Address) (common.Hash, error) {
	td := o.TypedData(chainID, verifyingContract)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("lop: hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("lop: hash order: %w", err)
	}

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}

// SignOrder signs the order digest and returns a 65-byte r ‖ s ‖ v signature
// with v in {27, 28}.
func SignOrder(o OrderData, chainID int64, verifyingContract common.Address, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := o.Hash(chainID, verifyingContract)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("lop: sign order: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over o. sig may be a
// 65-byte or 64-byte compact signature.
func RecoverSigner(o OrderData, chainID int64, verifyingContract common.Address, sig []byte) (common.Address, error) {
	digest, err := o.Hash(chainID, verifyingContract)
	if err != nil {
		return common.Address{}, err
	}
	compact, err := Compact(sig)
	if err != nil {
		return common.Address{}, err
	}
	raw := compact.Expand()
	raw[64] -= 27

	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("lop: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
