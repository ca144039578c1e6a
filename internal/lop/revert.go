package lop

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var protocolErrors = []string{
	"InvalidatedOrder()",
	"TakingAmountExceeded()",
	"PrivateOrder()",
	"BadSignature()",
	"OrderExpired()",
	"WrongSeriesNonce()",
	"SwapWithZeroAmount()",
	"PartialFillNotAllowed()",
	"OrderIsNotSuitableForMassInvalidation()",
	"EpochManagerAndBitInvalidatorsAreIncompatible()",
	"ReentrancyDetected()",
	"PredicateIsNotTrue()",
	"TakingAmountTooHigh()",
	"MakingAmountTooLow()",
	"TransferFromMakerToTakerFailed()",
	"TransferFromTakerToMakerFailed()",
	"MismatchArraysLengths()",
	"InvalidPermit2Transfer()",
	"MissingOrderExtension()",
	"UnexpectedOrderExtension()",
	"InvalidExtensionHash()",
	"BitInvalidatedOrder()",
	"RemainingInvalidatedOrder()",
	"InvalidMsgValue()",
	"ETHTransferFailed()",
	"SafeTransferFromFailed()",
	"SafeTransferFailed()",
	"SafeIncreaseAllowanceFailed()",
	"EnforcedPause()",
}

var errorBySelector = func() map[[4]byte]string {
	m := make(map[[4]byte]string, len(protocolErrors))
	for _, sig := range protocolErrors {
		var sel [4]byte
		copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
		m[sel] = sig
	}
	return m
}()

// DecodeRevert turns revert data into a readable reason: the Error(string)
// message, a Panic code, a known protocol custom error, or the raw selector.
func DecodeRevert(data []byte) string {
	if len(data) == 0 {
		return "execution reverted"
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if len(data) >= 4 {
		var sel [4]byte
		copy(sel[:], data[:4])
		if name, ok := errorBySelector[sel]; ok {
			return name
		}
	}
	return fmt.Sprintf("unknown revert %s", hexutil.Encode(data))
}
