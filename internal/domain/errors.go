package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the resolver layers. Adapters wrap these with
// context; the HTTP layer classifies them with errors.Is.
var (
	ErrValidation               = errors.New("validation error")
	ErrConflict                 = errors.New("order already exists")
	ErrNotFound                 = errors.New("order not found")
	ErrExtensionDecode          = errors.New("extension decode error")
	ErrOrderMismatch            = errors.New("order mismatch")
	ErrOracleUnavailable        = errors.New("oracle unavailable")
	ErrOracleDataMissing        = errors.New("oracle data missing")
	ErrFillTransactionFailed    = errors.New("fill transaction failed")
	ErrInvalidSignatureEncoding = errors.New("invalid signature encoding")
	ErrNotReconstructed         = errors.New("order not reconstructed")
	ErrAlreadyFilling           = errors.New("order is already being filled")
	ErrExecutionReverted        = errors.New("execution reverted")
)

// RevertError carries the decoded revert reason of a fill.
type RevertError struct {
	Reason string
	TxHash string // empty when the revert happened during gas estimation
}

func (e *RevertError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("execution reverted: %s (tx %s)", e.Reason, e.TxHash)
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) Unwrap() error { return ErrExecutionReverted }

// Validationf builds an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
